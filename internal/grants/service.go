package grants

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/directory"
	"github.com/Csepi/cal3-sub003/internal/models"
	"github.com/Csepi/cal3-sub003/internal/permissions"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
)

// Service authorizes and applies grant changes.
type Service struct {
	directory directory.Store
	store     Store
	resolver  *permissions.Resolver
	logger    *zap.Logger
}

// NewService creates a grants service.
func NewService(dir directory.Store, store Store, resolver *permissions.Resolver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{directory: dir, store: store, resolver: resolver, logger: logger}
}

// requireAdmin checks that actor resolves Admin on the organization.
func (s *Service) requireAdmin(ctx context.Context, actor, orgID uuid.UUID) error {
	level, err := s.resolver.Resolve(ctx, actor, permissions.Organization(orgID))
	if err != nil {
		return err
	}
	if !level.AtLeast(permissions.Admin) {
		return apperror.Forbidden("insufficient access").WithDetail("required", permissions.Admin.String())
	}
	return nil
}

func (s *Service) calendar(ctx context.Context, calendarID uuid.UUID) (*models.ReservationCalendar, error) {
	cal, err := s.directory.GetReservationCalendar(ctx, calendarID)
	if isNotFound(err) {
		return nil, apperror.NotFound("reservation calendar not found")
	}
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("load reservation calendar: %w", err))
	}
	return cal, nil
}

func autoAssigned() error {
	return apperror.InvalidRequest("role is assigned through organization admin; revoke the admin grant instead")
}

func (s *Service) storeErr(err error, missing string) error {
	if isNotFound(err) {
		return apperror.NotFound(missing)
	}
	return apperror.Internal(err)
}

// GrantOrganizationAdmin makes userID an admin of orgID and returns how many calendar roles were auto-assigned.
func (s *Service) GrantOrganizationAdmin(ctx context.Context, actor, orgID, userID uuid.UUID) (int, error) {
	if err := s.requireAdmin(ctx, actor, orgID); err != nil {
		return 0, err
	}
	added, err := s.store.GrantOrganizationAdmin(ctx, orgID, userID, actor)
	if err != nil {
		return 0, s.storeErr(err, "organization not found")
	}
	s.resolver.Invalidate(userID)
	s.logger.Info("organization admin granted",
		zap.String("organization_id", orgID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("auto_roles", added))
	return added, nil
}

// RevokeOrganizationAdmin removes the grant and the calendar roles it produced. Explicit roles survive.
func (s *Service) RevokeOrganizationAdmin(ctx context.Context, actor, orgID, userID uuid.UUID) (int, error) {
	if err := s.requireAdmin(ctx, actor, orgID); err != nil {
		return 0, err
	}
	removed, err := s.store.RevokeOrganizationAdmin(ctx, orgID, userID)
	if err != nil {
		return 0, s.storeErr(err, "organization admin not found")
	}
	s.resolver.Invalidate(userID)
	s.logger.Info("organization admin revoked",
		zap.String("organization_id", orgID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("auto_roles_removed", removed))
	return removed, nil
}

// SyncCalendarAdmins gives every admin of the calendar's organization an auto-assigned EDITOR role on it.
func (s *Service) SyncCalendarAdmins(ctx context.Context, actor, calendarID uuid.UUID) ([]uuid.UUID, error) {
	cal, err := s.calendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, actor, cal.OrganizationID); err != nil {
		return nil, err
	}
	added, err := s.store.SyncCalendarAdmins(ctx, calendarID)
	if err != nil {
		return nil, s.storeErr(err, "reservation calendar not found")
	}
	for _, id := range added {
		s.resolver.Invalidate(id)
	}
	return added, nil
}

// AssignCalendarRole sets an explicit role for userID on the calendar.
// A role that came from an organization admin grant cannot be replaced.
func (s *Service) AssignCalendarRole(ctx context.Context, actor, calendarID, userID uuid.UUID, role models.CalendarRole) (*models.ReservationCalendarRole, error) {
	if role != models.CalendarRoleEditor && role != models.CalendarRoleReviewer {
		return nil, apperror.InvalidRequest("role must be EDITOR or REVIEWER")
	}
	cal, err := s.calendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, actor, cal.OrganizationID); err != nil {
		return nil, err
	}
	current, err := s.directory.GetCalendarRole(ctx, calendarID, userID)
	switch {
	case err == nil && current.IsAutoAssignedFromOrgAdmin:
		return nil, autoAssigned()
	case err != nil && !isNotFound(err):
		return nil, apperror.Internal(err)
	}
	by := actor
	row := models.ReservationCalendarRole{
		ReservationCalendarID: calendarID,
		UserID:                userID,
		Role:                  role,
		AssignedBy:            &by,
	}
	if err := s.store.UpsertCalendarRole(ctx, row); err != nil {
		if errors.Is(err, directory.ErrAutoAssigned) {
			return nil, autoAssigned()
		}
		return nil, s.storeErr(err, "reservation calendar not found")
	}
	s.resolver.Invalidate(userID)
	return &row, nil
}

// RemoveCalendarRole deletes an explicit role. Auto-assigned rows go only with their admin grant.
func (s *Service) RemoveCalendarRole(ctx context.Context, actor, calendarID, userID uuid.UUID) error {
	cal, err := s.calendar(ctx, calendarID)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, actor, cal.OrganizationID); err != nil {
		return err
	}
	current, err := s.directory.GetCalendarRole(ctx, calendarID, userID)
	if err != nil {
		return s.storeErr(err, "calendar role not found")
	}
	if current.IsAutoAssignedFromOrgAdmin {
		return autoAssigned()
	}
	if err := s.store.DeleteCalendarRole(ctx, calendarID, userID); err != nil {
		return s.storeErr(err, "calendar role not found")
	}
	s.resolver.Invalidate(userID)
	return nil
}
