package game

import (
	"context"
	"errors"
	"fmt"

	"tinyassets/internal/auth"
	"tinyassets/internal/store"
)

// SetupParentAccess issues the first parent PIN. The PIN is returned once and
// only its hash is stored.
func (s *Service) SetupParentAccess(ctx context.Context, userID string) (ParentAccess, error) {
	return s.issuePIN(ctx, userID, false)
}

func (s *Service) RotateParentPIN(ctx context.Context, userID string) (ParentAccess, error) {
	if _, err := s.store.ParentPINHash(ctx, userID); err != nil {
		return ParentAccess{}, err
	}
	return s.issuePIN(ctx, userID, true)
}

func (s *Service) issuePIN(ctx context.Context, userID string, replace bool) (ParentAccess, error) {
	if _, err := s.GetGameState(ctx, userID); err != nil {
		return ParentAccess{}, err
	}
	pin, err := auth.NewPIN()
	if err != nil {
		return ParentAccess{}, err
	}
	hash, err := auth.HashPIN(pin)
	if err != nil {
		return ParentAccess{}, err
	}
	if err := s.store.SaveParentPIN(ctx, userID, hash, replace); err != nil {
		if errors.Is(err, store.ErrExists) {
			return ParentAccess{}, ErrParentAccessExists
		}
		return ParentAccess{}, fmt.Errorf("save parent pin: %w", err)
	}
	s.log.Info("parent pin issued", "user_id", userID, "rotated", replace)
	return ParentAccess{PIN: pin, Rotated: replace}, nil
}

// ParentProfile returns the portfolio summary once the PIN checks out.
func (s *Service) ParentProfile(ctx context.Context, userID, pin string) (Portfolio, error) {
	if err := validateUserID(userID); err != nil {
		return Portfolio{}, err
	}
	hash, err := s.store.ParentPINHash(ctx, userID)
	if err != nil {
		return Portfolio{}, err
	}
	if err := auth.CheckPIN(hash, pin); err != nil {
		if errors.Is(err, auth.ErrPINMismatch) {
			s.log.Warn("parent pin rejected", "user_id", userID)
			return Portfolio{}, ErrParentAccessDenied
		}
		return Portfolio{}, err
	}
	return s.Portfolio(ctx, userID)
}
