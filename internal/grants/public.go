package grants

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Csepi/cal3-sub003/internal/permissions"
	"github.com/Csepi/cal3-sub003/pkg/apperror"
	"github.com/Csepi/cal3-sub003/pkg/utils"
)

// PublicBooking is the state of a resource's unauthenticated booking link.
type PublicBooking struct {
	ResourceID uuid.UUID `json:"resource_id"`
	Token      string    `json:"token,omitempty"`
	Enabled    bool      `json:"enabled"`
}

func (s *Service) requireResourceAdmin(ctx context.Context, actor, resourceID uuid.UUID) error {
	level, err := s.resolver.Resolve(ctx, actor, permissions.Resource(resourceID))
	if err != nil {
		return err
	}
	if !level.AtLeast(permissions.Admin) {
		return apperror.Forbidden("insufficient access").WithDetail("required", permissions.Admin.String())
	}
	return nil
}

// EnablePublicBooking issues a fresh token for the resource and turns the public link on.
// Calling it again rotates the token; the old link stops resolving.
func (s *Service) EnablePublicBooking(ctx context.Context, actor, resourceID uuid.UUID) (*PublicBooking, error) {
	if err := s.requireResourceAdmin(ctx, actor, resourceID); err != nil {
		return nil, err
	}
	token, err := utils.NewPublicToken()
	if err != nil {
		return nil, apperror.Internal(err)
	}
	if err := s.store.SetPublicBooking(ctx, resourceID, &token, true); err != nil {
		return nil, s.storeErr(err, "resource not found")
	}
	s.logger.Info("public booking enabled", zap.String("resource_id", resourceID.String()))
	return &PublicBooking{ResourceID: resourceID, Token: token, Enabled: true}, nil
}

// DisablePublicBooking turns the public link off. The token is kept but no longer resolves.
func (s *Service) DisablePublicBooking(ctx context.Context, actor, resourceID uuid.UUID) (*PublicBooking, error) {
	if err := s.requireResourceAdmin(ctx, actor, resourceID); err != nil {
		return nil, err
	}
	if err := s.store.SetPublicBooking(ctx, resourceID, nil, false); err != nil {
		return nil, s.storeErr(err, "resource not found")
	}
	s.logger.Info("public booking disabled", zap.String("resource_id", resourceID.String()))
	return &PublicBooking{ResourceID: resourceID}, nil
}
