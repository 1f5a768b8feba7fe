package link

import (
	"context"
	"errors"
	"strings"

	"github.com/meteorlabs/kookbridge/internal/domain"
)

// ErrEmptyPlayerName is returned by operations that require a player name
var ErrEmptyPlayerName = errors.New("empty player name")

// Service is the application-facing surface over the link repository and
// the verification code issuer
type Service struct {
	repo   *Repository
	issuer *Issuer
}

// NewService creates a Service
func NewService(repo *Repository, issuer *Issuer) *Service {
	return &Service{repo: repo, issuer: issuer}
}

// IsLinked reports whether the named player has a bound KOOK account
func (s *Service) IsLinked(ctx context.Context, playerName string) bool {
	playerName = strings.TrimSpace(playerName)
	if playerName == "" {
		return false
	}
	return s.repo.IsLinked(ctx, playerName)
}

// KookUserIsLinked reports whether a KOOK account is already bound
func (s *Service) KookUserIsLinked(ctx context.Context, kookID string) bool {
	if kookID == "" {
		return false
	}
	return s.repo.KookUserIsLinked(ctx, kookID)
}

// Link binds playerName to the given KOOK user
func (s *Service) Link(ctx context.Context, playerName string, user domain.KookUser) (*domain.LinkRecord, error) {
	playerName = strings.TrimSpace(playerName)
	if playerName == "" {
		return nil, ErrEmptyPlayerName
	}
	return s.repo.Bind(ctx, playerName, user)
}

// Unlink removes the binding for playerName
func (s *Service) Unlink(ctx context.Context, playerName string) error {
	playerName = strings.TrimSpace(playerName)
	if playerName == "" {
		return ErrEmptyPlayerName
	}
	return s.repo.UnbindByPlayerName(ctx, playerName)
}

// UnlinkKook removes the binding for a KOOK account identifier
func (s *Service) UnlinkKook(ctx context.Context, kookID string) error {
	if kookID == "" {
		return ErrNotLinked
	}
	return s.repo.UnbindByKookID(ctx, kookID)
}

// Record returns the link record for playerName
func (s *Service) Record(ctx context.Context, playerName string) (*domain.LinkRecord, error) {
	playerName = strings.TrimSpace(playerName)
	if playerName == "" {
		return nil, ErrEmptyPlayerName
	}
	return s.repo.GetLinkedRecord(ctx, playerName)
}

// BuildVerifyCode issues a fresh verification code for playerName
func (s *Service) BuildVerifyCode(playerName string) (string, error) {
	playerName = strings.TrimSpace(playerName)
	if playerName == "" {
		return "", ErrEmptyPlayerName
	}
	return s.issuer.Issue(playerName)
}

// PendingFor returns the player name a live verification code was issued
// for, and whether the code is still valid
func (s *Service) PendingFor(code string) (string, bool) {
	return s.issuer.Lookup(code)
}
