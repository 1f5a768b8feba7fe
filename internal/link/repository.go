package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/meteorlabs/kookbridge/internal/domain"
	"github.com/meteorlabs/kookbridge/internal/identity"
	"github.com/meteorlabs/kookbridge/internal/storage"
)

// Conflict and not-found outcomes. These are return-level results, not
// faults; unexpected store errors are wrapped separately.
var (
	// ErrPlayerLinked means the game identity already has a link record
	ErrPlayerLinked = errors.New("player is already linked")
	// ErrKookUserLinked means the KOOK account already has a link record
	ErrKookUserLinked = errors.New("kook account is already linked")
	// ErrNotLinked means no link record exists for the given key
	ErrNotLinked = errors.New("not linked")
)

// Store is the subset of the sqlite store the repository needs
type Store interface {
	GetLinkByUUID(ctx context.Context, playerUUID string) (*domain.LinkRecord, error)
	GetLinkByKookID(ctx context.Context, kookID string) (*domain.LinkRecord, error)
	InsertLink(ctx context.Context, rec *domain.LinkRecord) error
	DeleteLinkByUUID(ctx context.Context, playerUUID string) error
	DeleteLinkByKookID(ctx context.Context, kookID string) error
	UpdatePlayerName(ctx context.Context, playerUUID, playerName string) error
}

// Repository owns the durable player<->KOOK mapping and its read-through
// cache. All methods are safe for concurrent use; Bind serializes its
// check-then-insert region so two racing binds cannot both pass the
// existence checks.
type Repository struct {
	store    Store
	resolver identity.Resolver

	// cache maps current player name -> link record
	cache *expirable.LRU[string, domain.LinkRecord]

	// bindMu guards the check-then-insert region of Bind
	bindMu sync.Mutex
}

// NewRepository creates a Repository over store with the given resolver
func NewRepository(store Store, resolver identity.Resolver) *Repository {
	return &Repository{
		store:    store,
		resolver: resolver,
		cache:    expirable.NewLRU[string, domain.LinkRecord](1000, nil, 25*time.Minute),
	}
}

// IsLinked reports whether playerName has a link record. Identity that
// cannot be resolved counts as not linked. A lookup that finds the record
// under a stale stored name reconciles the stored name as a side effect.
func (r *Repository) IsLinked(ctx context.Context, playerName string) bool {
	rec, err := r.GetLinkedRecord(ctx, playerName)
	if err != nil {
		if !errors.Is(err, ErrNotLinked) && !errors.Is(err, identity.ErrUnresolved) {
			log.WithError(err).WithField("player", playerName).Warn("link check failed")
		}
		return false
	}
	return rec != nil
}

// GetLinkedRecord returns the link record for playerName, cache first.
// Returns ErrNotLinked when no record exists, identity.ErrUnresolved when
// no stable identifier could be determined for the name.
func (r *Repository) GetLinkedRecord(ctx context.Context, playerName string) (*domain.LinkRecord, error) {
	if rec, ok := r.cache.Get(playerName); ok {
		return &rec, nil
	}

	id, err := r.resolver.Resolve(ctx, playerName)
	if err != nil {
		if errors.Is(err, identity.ErrUnresolved) {
			return nil, err
		}
		return nil, fmt.Errorf("resolving %s: %w", playerName, err)
	}

	rec, err := r.store.GetLinkByUUID(ctx, id.String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("querying link for %s: %w", playerName, err)
	}

	if rec.PlayerName != playerName {
		r.reconcileRename(ctx, rec, playerName)
	}
	r.cache.Add(playerName, *rec)
	return rec, nil
}

// reconcileRename repairs the stored display name after the stable
// identifier's current name changed. Best effort: a failed update is logged
// and does not fail the calling lookup.
func (r *Repository) reconcileRename(ctx context.Context, rec *domain.LinkRecord, currentName string) {
	oldName := rec.PlayerName
	if err := r.store.UpdatePlayerName(ctx, rec.PlayerUUID, currentName); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"player_uuid": rec.PlayerUUID,
			"old_name":    oldName,
			"new_name":    currentName,
		}).Error("rename reconciliation failed")
	} else {
		log.WithFields(log.Fields{
			"player_uuid": rec.PlayerUUID,
			"old_name":    oldName,
			"new_name":    currentName,
		}).Info("reconciled stored player name after rename")
	}
	rec.PlayerName = currentName
	r.cache.Remove(oldName)
}

// Bind links playerName to the given KOOK user. The existence checks on
// both keys and the insert form one critical section; exactly one of two
// racing binds on an overlapping key pair can succeed.
func (r *Repository) Bind(ctx context.Context, playerName string, user domain.KookUser) (*domain.LinkRecord, error) {
	started := time.Now()

	id, err := r.resolver.Resolve(ctx, playerName)
	if err != nil {
		if errors.Is(err, identity.ErrUnresolved) {
			return nil, fmt.Errorf("bind aborted: %w", err)
		}
		return nil, fmt.Errorf("resolving %s: %w", playerName, err)
	}

	r.bindMu.Lock()
	defer r.bindMu.Unlock()

	if _, err := r.store.GetLinkByUUID(ctx, id.String()); err == nil {
		return nil, ErrPlayerLinked
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("checking player binding: %w", err)
	}

	if _, err := r.store.GetLinkByKookID(ctx, user.ID); err == nil {
		return nil, ErrKookUserLinked
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("checking kook binding: %w", err)
	}

	rec := &domain.LinkRecord{
		PlayerUUID:     id.String(),
		KookID:         user.ID,
		PlayerName:     playerName,
		UserName:       user.Name,
		Avatar:         user.Avatar,
		MobileVerified: user.MobileVerified,
		JoinedAt:       time.Now().UTC(),
		NickName:       user.Nickname,
	}
	if err := r.store.InsertLink(ctx, rec); err != nil {
		return nil, fmt.Errorf("inserting link: %w", err)
	}

	// A stale negative entry must not outlive the write
	r.cache.Remove(playerName)

	log.WithFields(log.Fields{
		"player":      playerName,
		"player_uuid": rec.PlayerUUID,
		"kook_id":     rec.KookID,
		"duration":    time.Since(started),
	}).Info("bound player to kook account")
	return rec, nil
}

// UnbindByPlayerName removes the link for playerName. The cache entry is
// invalidated under the record's stored name, which may differ from the
// caller's name if a rename was never reconciled.
func (r *Repository) UnbindByPlayerName(ctx context.Context, playerName string) error {
	id, err := r.resolver.Resolve(ctx, playerName)
	if err != nil {
		if errors.Is(err, identity.ErrUnresolved) {
			return fmt.Errorf("unbind aborted: %w", err)
		}
		return fmt.Errorf("resolving %s: %w", playerName, err)
	}

	rec, err := r.store.GetLinkByUUID(ctx, id.String())
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotLinked
	}
	if err != nil {
		return fmt.Errorf("querying link for %s: %w", playerName, err)
	}

	if err := r.store.DeleteLinkByUUID(ctx, rec.PlayerUUID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotLinked
		}
		return fmt.Errorf("deleting link for %s: %w", playerName, err)
	}

	r.cache.Remove(rec.PlayerName)
	log.WithFields(log.Fields{"player": rec.PlayerName, "kook_id": rec.KookID}).Info("unbound player")
	return nil
}

// UnbindByKookID removes the link for a KOOK account identifier
func (r *Repository) UnbindByKookID(ctx context.Context, kookID string) error {
	rec, err := r.store.GetLinkByKookID(ctx, kookID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotLinked
	}
	if err != nil {
		return fmt.Errorf("querying link for kook id %s: %w", kookID, err)
	}

	if err := r.store.DeleteLinkByKookID(ctx, kookID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotLinked
		}
		return fmt.Errorf("deleting link for kook id %s: %w", kookID, err)
	}

	r.cache.Remove(rec.PlayerName)
	log.WithFields(log.Fields{"player": rec.PlayerName, "kook_id": kookID}).Info("unbound kook account")
	return nil
}

// FindPlayerNameByKookID returns the player name bound to a KOOK account
func (r *Repository) FindPlayerNameByKookID(ctx context.Context, kookID string) (string, error) {
	rec, err := r.store.GetLinkByKookID(ctx, kookID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNotLinked
	}
	if err != nil {
		return "", fmt.Errorf("querying link for kook id %s: %w", kookID, err)
	}
	return rec.PlayerName, nil
}

// FindKookIDByPlayerName returns the KOOK account bound to a player name
func (r *Repository) FindKookIDByPlayerName(ctx context.Context, playerName string) (string, error) {
	rec, err := r.GetLinkedRecord(ctx, playerName)
	if err != nil {
		return "", err
	}
	return rec.KookID, nil
}

// KookUserIsLinked reports whether a KOOK account has a link record
func (r *Repository) KookUserIsLinked(ctx context.Context, kookID string) bool {
	_, err := r.store.GetLinkByKookID(ctx, kookID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.WithError(err).WithField("kook_id", kookID).Warn("kook link check failed")
		}
		return false
	}
	return true
}

// Purge drops the whole read-through cache. Only used at shutdown/reload.
func (r *Repository) Purge() {
	r.cache.Purge()
}
