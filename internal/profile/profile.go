// Package profile holds the simulated customer record that business functions
// read and mutate during an evaluation run.
//
// A [Profile] is owned exclusively by one session; catalog functions are the
// only permitted mutators. [Diff] computes the field-level change set between
// two snapshots so that every function call can be audited against the exact
// state it produced.
package profile

import (
	"fmt"
	"sort"
	"strings"
)

// LeadStatus is the pipeline stage of the simulated contact.
type LeadStatus string

const (
	StatusNew        LeadStatus = "new"
	StatusContacted  LeadStatus = "contacted"
	StatusQualified  LeadStatus = "qualified"
	StatusProposal   LeadStatus = "proposal"
	StatusClosedWon  LeadStatus = "closed_won"
	StatusClosedLost LeadStatus = "closed_lost"
)

// IsValid reports whether s is a recognised lead status.
func (s LeadStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusQualified, StatusProposal, StatusClosedWon, StatusClosedLost:
		return true
	}
	return false
}

// ValidStatuses returns the recognised lead status values, for rendering into
// function parameter schemas.
func ValidStatuses() []string {
	return []string{
		string(StatusNew), string(StatusContacted), string(StatusQualified),
		string(StatusProposal), string(StatusClosedWon), string(StatusClosedLost),
	}
}

// Profile is the mutable simulated business-contact record.
type Profile struct {
	// Fixed scalar fields.
	CompanyName  string     `json:"company_name"`
	ContactName  string     `json:"contact_name"`
	ContactTitle string     `json:"contact_title"`
	Industry     string     `json:"industry"`
	CompanySize  string     `json:"company_size"`
	LeadStatus   LeadStatus `json:"lead_status"`
	NextFollowUp string     `json:"next_follow_up"`
	ReviewFlag   string     `json:"review_flag"`

	// Insights is an open-ended, mergeable map of discovered facts keyed by
	// topic. Merging never removes existing keys.
	Insights map[string]string `json:"insights"`
}

// New returns an empty Profile in the "new" lead stage with an initialised
// insights map.
func New() *Profile {
	return &Profile{
		LeadStatus: StatusNew,
		Insights:   make(map[string]string),
	}
}

// Clone returns a deep copy of p. Used to capture before/after snapshots
// around a function call.
func (p *Profile) Clone() *Profile {
	cp := *p
	cp.Insights = make(map[string]string, len(p.Insights))
	for k, v := range p.Insights {
		cp.Insights[k] = v
	}
	return &cp
}

// FieldNames lists the settable scalar field identifiers accepted by the
// update_profile_field function.
func FieldNames() []string {
	return []string{
		"company_name", "contact_name", "contact_title",
		"industry", "company_size", "next_follow_up",
	}
}

// SetField assigns value to the named scalar field. Lead status changes go
// through set_lead_status instead and are rejected here. Unknown field names
// are an error.
func (p *Profile) SetField(name, value string) error {
	switch name {
	case "company_name":
		p.CompanyName = value
	case "contact_name":
		p.ContactName = value
	case "contact_title":
		p.ContactTitle = value
	case "industry":
		p.Industry = value
	case "company_size":
		p.CompanySize = value
	case "next_follow_up":
		p.NextFollowUp = value
	case "lead_status":
		return fmt.Errorf("profile: lead_status must be changed via set_lead_status")
	default:
		return fmt.Errorf("profile: unknown field %q", name)
	}
	return nil
}

// Field returns the current value of the named scalar field, or "" when the
// name is unknown.
func (p *Profile) Field(name string) string {
	switch name {
	case "company_name":
		return p.CompanyName
	case "contact_name":
		return p.ContactName
	case "contact_title":
		return p.ContactTitle
	case "industry":
		return p.Industry
	case "company_size":
		return p.CompanySize
	case "next_follow_up":
		return p.NextFollowUp
	case "lead_status":
		return string(p.LeadStatus)
	case "review_flag":
		return p.ReviewFlag
	}
	return ""
}

// MergeInsight records value under key in the insights map. An existing value
// for the same key is extended, not replaced — discovered facts accumulate.
func (p *Profile) MergeInsight(key, value string) {
	if p.Insights == nil {
		p.Insights = make(map[string]string)
	}
	existing, ok := p.Insights[key]
	if !ok || existing == "" {
		p.Insights[key] = value
		return
	}
	if existing == value || strings.Contains(existing, value) {
		return
	}
	p.Insights[key] = existing + "; " + value
}

// FieldChange records one field transition produced by a function call.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Diff computes the field-level changes from before to after, covering both
// the fixed scalar fields and the insights map (insight keys are reported as
// "insights.<key>"). Results are ordered by field name for stable output.
func Diff(before, after *Profile) []FieldChange {
	var changes []FieldChange

	scalars := append(FieldNames(), "lead_status", "review_flag")
	for _, name := range scalars {
		b, a := before.Field(name), after.Field(name)
		if b != a {
			changes = append(changes, FieldChange{Field: name, Before: b, After: a})
		}
	}

	keys := make(map[string]struct{}, len(before.Insights)+len(after.Insights))
	for k := range before.Insights {
		keys[k] = struct{}{}
	}
	for k := range after.Insights {
		keys[k] = struct{}{}
	}
	insightKeys := make([]string, 0, len(keys))
	for k := range keys {
		insightKeys = append(insightKeys, k)
	}
	sort.Strings(insightKeys)
	for _, k := range insightKeys {
		b, a := before.Insights[k], after.Insights[k]
		if b != a {
			changes = append(changes, FieldChange{Field: "insights." + k, Before: b, After: a})
		}
	}

	return changes
}

// Summary renders the profile as a compact human-readable block for the
// decision prompt.
func (p *Profile) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "company_name: %s\n", orUnset(p.CompanyName))
	fmt.Fprintf(&sb, "contact_name: %s\n", orUnset(p.ContactName))
	fmt.Fprintf(&sb, "contact_title: %s\n", orUnset(p.ContactTitle))
	fmt.Fprintf(&sb, "industry: %s\n", orUnset(p.Industry))
	fmt.Fprintf(&sb, "company_size: %s\n", orUnset(p.CompanySize))
	fmt.Fprintf(&sb, "lead_status: %s\n", p.LeadStatus)
	fmt.Fprintf(&sb, "next_follow_up: %s\n", orUnset(p.NextFollowUp))
	if p.ReviewFlag != "" {
		fmt.Fprintf(&sb, "review_flag: %s\n", p.ReviewFlag)
	}
	if len(p.Insights) > 0 {
		keys := make([]string, 0, len(p.Insights))
		for k := range p.Insights {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("insights:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %s\n", k, p.Insights[k])
		}
	}
	return sb.String()
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
