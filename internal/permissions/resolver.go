package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/directory"
	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/metrics"
)

// Resolver evaluates access rules against the directory on every call. It keeps no cache.
type Resolver struct {
	store   directory.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewResolver creates a resolver over store. logger and m may be nil.
func NewResolver(store directory.Store, logger *zap.Logger, m *metrics.Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, logger: logger, metrics: m}
}

// Resolve returns the user's effective access level on target.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, target Target) (AccessLevel, error) {
	d, err := r.Evaluate(ctx, userID, target)
	if err != nil {
		return None, err
	}
	return d.Level, nil
}

// Invalidate is called by grant writers after changing a user's grants.
// The resolver reads through to the store, so there is nothing to drop.
func (r *Resolver) Invalidate(userID uuid.UUID) {
	r.logger.Debug("permission grants changed", zap.String("user_id", userID.String()))
}

// scope is the owning organization of a target plus the row the granular tier keys on.
type scope struct {
	org      *models.Organization
	calendar bool
	grantKey uuid.UUID
}

func (r *Resolver) locate(ctx context.Context, target Target) (*scope, error) {
	var orgID uuid.UUID
	s := &scope{}
	switch target.Kind {
	case TargetOrganization:
		orgID = target.ID
	case TargetResourceType:
		rt, err := r.store.GetResourceType(ctx, target.ID)
		if err != nil {
			return nil, lookupErr(err, "resource type not found")
		}
		orgID, s.grantKey = rt.OrganizationID, rt.ID
	case TargetResource:
		res, err := r.store.GetResource(ctx, target.ID)
		if err != nil {
			return nil, lookupErr(err, "resource not found")
		}
		rt, err := r.store.GetResourceType(ctx, res.ResourceTypeID)
		if err != nil {
			return nil, lookupErr(err, "resource type not found")
		}
		orgID, s.grantKey = rt.OrganizationID, rt.ID
	case TargetCalendar:
		cal, err := r.store.GetReservationCalendar(ctx, target.ID)
		if err != nil {
			return nil, lookupErr(err, "reservation calendar not found")
		}
		orgID, s.grantKey, s.calendar = cal.OrganizationID, cal.ID, true
	default:
		return nil, apperror.InvalidRequest(fmt.Sprintf("unknown target type %q", target.Kind))
	}

	org, err := r.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, lookupErr(err, "organization not found")
	}
	s.org = org
	return s, nil
}

func lookupErr(err error, msg string) error {
	if errors.Is(err, directory.ErrNotFound) {
		return apperror.NotFound(msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Evaluate applies the access rules in order and returns the first match.
func (r *Resolver) Evaluate(ctx context.Context, userID uuid.UUID, target Target) (Decision, error) {
	d, err := r.evaluate(ctx, userID, target)
	if err != nil {
		return Decision{}, err
	}
	r.metrics.Permission(string(target.Kind), d.Level.String())
	return d, nil
}

func (r *Resolver) evaluate(ctx context.Context, userID uuid.UUID, target Target) (Decision, error) {
	s, err := r.locate(ctx, target)
	if err != nil {
		return Decision{}, err
	}

	super, err := r.store.IsSuperAdmin(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("check super admin: %w", err)
	}
	if super {
		return Decision{Level: Admin, CanReview: true, Rule: RuleSuperAdmin, Reason: "platform super-admin"}, nil
	}

	admin, err := r.store.IsOrganizationAdmin(ctx, s.org.ID, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("check organization admin: %w", err)
	}
	if admin {
		if s.calendar {
			return Decision{Level: Edit, CanReview: true, Rule: RuleOrganizationAdmin,
				Reason: "organization admin is editor on every reservation calendar"}, nil
		}
		return Decision{Level: Admin, Rule: RuleOrganizationAdmin, Reason: "organization admin"}, nil
	}

	if s.calendar {
		role, err := r.store.GetCalendarRole(ctx, s.grantKey, userID)
		switch {
		case err == nil:
			if role.Role == models.CalendarRoleEditor {
				return Decision{Level: Edit, CanReview: true, Rule: RuleCalendarRole, Reason: "calendar editor"}, nil
			}
			return Decision{Level: View, CanReview: true, Rule: RuleCalendarRole, Reason: "calendar reviewer"}, nil
		case !errors.Is(err, directory.ErrNotFound):
			return Decision{}, fmt.Errorf("load calendar role: %w", err)
		}
	}

	if r.granular(s, target) {
		return r.evaluateGranular(ctx, s, userID)
	}

	if !s.calendar {
		member, err := r.store.IsOrganizationMember(ctx, s.org.ID, userID)
		if err != nil {
			return Decision{}, fmt.Errorf("check membership: %w", err)
		}
		if member {
			return Decision{Level: View, Rule: RuleMembership, Reason: "organization member"}, nil
		}
	}

	return Decision{Level: None, Rule: RuleNone, Reason: "no grant"}, nil
}

// granular reports whether the owning organization routes target through explicit grants.
func (r *Resolver) granular(s *scope, target Target) bool {
	switch target.Kind {
	case TargetResourceType, TargetResource:
		return s.org.GranularResourcePermissions
	case TargetCalendar:
		return s.org.GranularCalendarPermissions
	}
	return false
}

func (r *Resolver) evaluateGranular(ctx context.Context, s *scope, userID uuid.UUID) (Decision, error) {
	var (
		p   *models.GranularPermission
		err error
	)
	if s.calendar {
		p, err = r.store.GetCalendarPermission(ctx, s.org.ID, userID, s.grantKey)
	} else {
		p, err = r.store.GetResourceTypePermission(ctx, s.org.ID, userID, s.grantKey)
	}
	if errors.Is(err, directory.ErrNotFound) {
		return Decision{Level: None, Rule: RuleGranular, Reason: "granular permissions enabled and no grant"}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("load granular permission: %w", err)
	}
	switch {
	case p.CanEdit:
		return Decision{Level: Edit, Rule: RuleGranular, Reason: "granular edit grant"}, nil
	case p.EffectiveView():
		return Decision{Level: View, Rule: RuleGranular, Reason: "granular view grant"}, nil
	}
	return Decision{Level: None, Rule: RuleGranular, Reason: "granular grant without view or edit"}, nil
}
