package catalog

import (
	"context"
	"fmt"

	"github.com/MrWong99/clarivox/internal/profile"
)

// BuiltinVersion identifies the built-in catalog revision. Bump when the
// function set or any schema changes, since evaluation results are only
// comparable within one catalog version.
const BuiltinVersion = "v1"

// NewBuiltin returns the standard evaluation catalog: the five business
// functions the decision engine may invoke against the customer profile.
func NewBuiltin() *Catalog {
	c, err := New(BuiltinVersion,
		updateProfileField(),
		addInsight(),
		setLeadStatus(),
		scheduleFollowUp(),
		flagForReview(),
	)
	if err != nil {
		// The built-in definitions are static; a construction error here is
		// a programming bug.
		panic("catalog: builtin: " + err.Error())
	}
	return c
}

func updateProfileField() Function {
	return Function{
		Name:        "update_profile_field",
		Description: "Set a scalar field on the customer profile when the conversation reveals or corrects it.",
		Params: []Param{
			{
				Name:        "field_to_update",
				Type:        ParamString,
				Description: "Which profile field to set.",
				Required:    true,
				Enum:        profile.FieldNames(),
			},
			{
				Name:        "new_value",
				Type:        ParamString,
				Description: "The new value for the field.",
				Required:    true,
			},
		},
		Handler: func(_ context.Context, params map[string]any, prof *profile.Profile) (string, error) {
			field := params["field_to_update"].(string)
			value := params["new_value"].(string)
			if err := prof.SetField(field, value); err != nil {
				return "", err
			}
			return fmt.Sprintf("set %s to %q", field, value), nil
		},
	}
}

func addInsight() Function {
	return Function{
		Name:        "add_insight",
		Description: "Record a discovered fact about the customer (pain point, budget, timeline, competitor, etc.) under a topic key. Existing insights for the same topic are extended, never overwritten.",
		Params: []Param{
			{
				Name:        "topic",
				Type:        ParamString,
				Description: "Short snake_case topic key, e.g. pain_point, budget, timeline.",
				Required:    true,
			},
			{
				Name:        "insight",
				Type:        ParamString,
				Description: "The fact to record.",
				Required:    true,
			},
		},
		Handler: func(_ context.Context, params map[string]any, prof *profile.Profile) (string, error) {
			topic := params["topic"].(string)
			insight := params["insight"].(string)
			prof.MergeInsight(topic, insight)
			return fmt.Sprintf("recorded insight under %q", topic), nil
		},
	}
}

func setLeadStatus() Function {
	return Function{
		Name:        "set_lead_status",
		Description: "Advance or change the customer's pipeline stage.",
		Params: []Param{
			{
				Name:        "status",
				Type:        ParamString,
				Description: "The new pipeline stage.",
				Required:    true,
				Enum:        profile.ValidStatuses(),
			},
		},
		Handler: func(_ context.Context, params map[string]any, prof *profile.Profile) (string, error) {
			status := profile.LeadStatus(params["status"].(string))
			prev := prof.LeadStatus
			prof.LeadStatus = status
			return fmt.Sprintf("lead status %s → %s", prev, status), nil
		},
	}
}

func scheduleFollowUp() Function {
	return Function{
		Name:        "schedule_follow_up",
		Description: "Record an agreed follow-up (date or relative time) on the profile.",
		Params: []Param{
			{
				Name:        "when",
				Type:        ParamString,
				Description: "When the follow-up should happen, as stated in the conversation (e.g. \"next Tuesday\", \"2026-09-15\").",
				Required:    true,
			},
			{
				Name:        "note",
				Type:        ParamString,
				Description: "Optional note about the follow-up purpose.",
				Required:    false,
			},
		},
		Handler: func(_ context.Context, params map[string]any, prof *profile.Profile) (string, error) {
			when := params["when"].(string)
			prof.NextFollowUp = when
			if note, ok := params["note"].(string); ok && note != "" {
				prof.MergeInsight("follow_up", note)
			}
			return fmt.Sprintf("follow-up scheduled for %s", when), nil
		},
	}
}

func flagForReview() Function {
	return Function{
		Name:        "flag_for_review",
		Description: "Flag the conversation for human review when something looks wrong or needs escalation.",
		Params: []Param{
			{
				Name:        "reason",
				Type:        ParamString,
				Description: "Why the conversation needs review.",
				Required:    true,
			},
		},
		Handler: func(_ context.Context, params map[string]any, prof *profile.Profile) (string, error) {
			reason := params["reason"].(string)
			prof.ReviewFlag = reason
			return "flagged for review", nil
		},
	}
}
