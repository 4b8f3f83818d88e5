// Package permissions resolves a user's effective access level on organizations,
// resource types, resources and reservation calendars.
package permissions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccessLevel is an ordered access grade: None < View < Edit < Admin.
type AccessLevel int

const (
	None AccessLevel = iota
	View
	Edit
	Admin
)

var levelNames = [...]string{"NONE", "VIEW", "EDIT", "ADMIN"}

func (l AccessLevel) String() string {
	if l < None || l > Admin {
		return fmt.Sprintf("AccessLevel(%d)", int(l))
	}
	return levelNames[l]
}

// AtLeast reports whether l grants min.
func (l AccessLevel) AtLeast(min AccessLevel) bool { return l >= min }

func (l AccessLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *AccessLevel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseAccessLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseAccessLevel parses a case-insensitive level name.
func ParseAccessLevel(s string) (AccessLevel, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return AccessLevel(i), nil
		}
	}
	return None, fmt.Errorf("unknown access level %q", s)
}

// TargetKind names the kind of object a permission is resolved on.
type TargetKind string

const (
	TargetOrganization TargetKind = "organization"
	TargetResourceType TargetKind = "resource_type"
	TargetResource     TargetKind = "resource"
	TargetCalendar     TargetKind = "calendar"
)

// Target identifies the object of a permission check.
type Target struct {
	Kind TargetKind `json:"type"`
	ID   uuid.UUID  `json:"id"`
}

func Organization(id uuid.UUID) Target { return Target{Kind: TargetOrganization, ID: id} }
func ResourceType(id uuid.UUID) Target { return Target{Kind: TargetResourceType, ID: id} }
func Resource(id uuid.UUID) Target     { return Target{Kind: TargetResource, ID: id} }
func Calendar(id uuid.UUID) Target     { return Target{Kind: TargetCalendar, ID: id} }

// ParseTarget builds a target from its wire form.
func ParseTarget(kind, id string) (Target, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target id: %w", err)
	}
	switch k := TargetKind(strings.ToLower(kind)); k {
	case TargetOrganization, TargetResourceType, TargetResource, TargetCalendar:
		return Target{Kind: k, ID: parsed}, nil
	}
	return Target{}, fmt.Errorf("unknown target type %q", kind)
}

func (t Target) String() string { return string(t.Kind) + ":" + t.ID.String() }

// Rule names the resolution rule that produced a decision.
type Rule string

const (
	RuleSuperAdmin        Rule = "super_admin"
	RuleOrganizationAdmin Rule = "organization_admin"
	RuleCalendarRole      Rule = "calendar_role"
	RuleGranular          Rule = "granular_permission"
	RuleMembership        Rule = "organization_membership"
	RuleNone              Rule = "none"
)

// Decision is the outcome of Evaluate. CanReview is set for calendar reviewers and editors.
type Decision struct {
	Level     AccessLevel `json:"level"`
	CanReview bool        `json:"can_review"`
	Rule      Rule        `json:"rule"`
	Reason    string      `json:"reason"`
}

// Allows reports whether the decision grants min.
func (d Decision) Allows(min AccessLevel) bool { return d.Level.AtLeast(min) }
