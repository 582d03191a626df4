package profile

import "testing"

func TestSetFieldAndField(t *testing.T) {
	p := New()

	if err := p.SetField("company_name", "Acme"); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if got := p.Field("company_name"); got != "Acme" {
		t.Errorf("Field(company_name) = %q, want %q", got, "Acme")
	}

	if err := p.SetField("lead_status", "qualified"); err == nil {
		t.Error("SetField(lead_status) should be rejected")
	}
	if err := p.SetField("bogus", "x"); err == nil {
		t.Error("SetField(bogus) should be rejected")
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := New()
	p.CompanyName = "Old"
	p.MergeInsight("budget", "about 50k")

	cp := p.Clone()
	cp.CompanyName = "New"
	cp.MergeInsight("budget", "confirmed 75k")
	cp.Insights["timeline"] = "Q3"

	if p.CompanyName != "Old" {
		t.Errorf("clone mutated original CompanyName: %q", p.CompanyName)
	}
	if p.Insights["budget"] != "about 50k" {
		t.Errorf("clone mutated original insight: %q", p.Insights["budget"])
	}
	if _, ok := p.Insights["timeline"]; ok {
		t.Error("clone shares insights map with original")
	}
}

func TestMergeInsight(t *testing.T) {
	p := New()

	p.MergeInsight("pain_point", "manual reporting")
	if got := p.Insights["pain_point"]; got != "manual reporting" {
		t.Errorf("Insights[pain_point] = %q", got)
	}

	// Accumulates instead of replacing.
	p.MergeInsight("pain_point", "slow exports")
	if got := p.Insights["pain_point"]; got != "manual reporting; slow exports" {
		t.Errorf("Insights[pain_point] = %q", got)
	}

	// Duplicate values are not re-appended.
	p.MergeInsight("pain_point", "slow exports")
	if got := p.Insights["pain_point"]; got != "manual reporting; slow exports" {
		t.Errorf("Insights[pain_point] after duplicate merge = %q", got)
	}
}

func TestDiff(t *testing.T) {
	before := New()
	before.CompanyName = "Old"

	after := before.Clone()
	after.CompanyName = "Acme"
	after.LeadStatus = StatusQualified
	after.MergeInsight("budget", "50k approved")

	changes := Diff(before, after)
	want := map[string][2]string{
		"company_name":    {"Old", "Acme"},
		"lead_status":     {"new", "qualified"},
		"insights.budget": {"", "50k approved"},
	}
	if len(changes) != len(want) {
		t.Fatalf("Diff produced %d changes: %+v", len(changes), changes)
	}
	for _, c := range changes {
		w, ok := want[c.Field]
		if !ok {
			t.Errorf("unexpected change for field %q", c.Field)
			continue
		}
		if c.Before != w[0] || c.After != w[1] {
			t.Errorf("field %q: got %q→%q, want %q→%q", c.Field, c.Before, c.After, w[0], w[1])
		}
	}
}

func TestDiffNoChanges(t *testing.T) {
	p := New()
	p.CompanyName = "Acme"
	if changes := Diff(p, p.Clone()); len(changes) != 0 {
		t.Errorf("Diff of identical profiles = %+v, want empty", changes)
	}
}

func TestLeadStatusValidity(t *testing.T) {
	for _, s := range ValidStatuses() {
		if !LeadStatus(s).IsValid() {
			t.Errorf("LeadStatus(%q).IsValid() = false", s)
		}
	}
	if LeadStatus("warm").IsValid() {
		t.Error(`LeadStatus("warm").IsValid() = true`)
	}
}
