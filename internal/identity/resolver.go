package identity

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrUnresolved is returned when no stable identifier exists for a name,
// e.g. the name has never connected to this server.
var ErrUnresolved = errors.New("cannot resolve player identity")

// Resolver maps a display name to a rename-independent player UUID.
// Resolution may be slow (network lookup) and must not run on a path that
// blocks session handling.
type Resolver interface {
	Resolve(ctx context.Context, playerName string) (uuid.UUID, error)
}

// OfflineResolver derives the UUID the same way offline-mode servers do:
// a version-3 UUID over "OfflinePlayer:" + name. Deterministic, never fails.
type OfflineResolver struct{}

// Resolve implements Resolver
func (OfflineResolver) Resolve(_ context.Context, playerName string) (uuid.UUID, error) {
	if playerName == "" {
		return uuid.Nil, ErrUnresolved
	}
	sum := md5.Sum([]byte("OfflinePlayer:" + playerName))
	sum[6] = (sum[6] & 0x0f) | 0x30 // version 3
	sum[8] = (sum[8] & 0x3f) | 0x80 // RFC 4122 variant
	id, err := uuid.FromBytes(sum[:])
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

const mojangProfileURL = "https://api.mojang.com/users/profiles/minecraft/%s"

// MojangResolver resolves premium account UUIDs through the Mojang profile
// API. Results are cached briefly so admission checks don't hammer the API.
type MojangResolver struct {
	client  *http.Client
	baseURL string
	cache   *expirable.LRU[string, uuid.UUID]
}

// NewMojangResolver creates a resolver with the given lookup timeout
func NewMojangResolver(timeout time.Duration) *MojangResolver {
	return &MojangResolver{
		client:  &http.Client{Timeout: timeout},
		baseURL: mojangProfileURL,
		cache:   expirable.NewLRU[string, uuid.UUID](1000, nil, 10*time.Minute),
	}
}

// Resolve implements Resolver
func (r *MojangResolver) Resolve(ctx context.Context, playerName string) (uuid.UUID, error) {
	if playerName == "" {
		return uuid.Nil, ErrUnresolved
	}
	if id, ok := r.cache.Get(playerName); ok {
		return id, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.baseURL, playerName), nil)
	if err != nil {
		return uuid.Nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("profile lookup for %s: %w", playerName, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return uuid.Nil, fmt.Errorf("%w: no profile for %s", ErrUnresolved, playerName)
	default:
		return uuid.Nil, fmt.Errorf("profile lookup for %s: status %d", playerName, resp.StatusCode)
	}

	var profile struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return uuid.Nil, fmt.Errorf("decoding profile: %w", err)
	}
	id, err := uuid.Parse(profile.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing profile uuid %q: %w", profile.ID, err)
	}

	r.cache.Add(playerName, id)
	return id, nil
}

// SessionResolver consults the set of currently online sessions before
// falling back to a slower resolver, mirroring the online-player fast path.
type SessionResolver struct {
	fallback Resolver

	mu     sync.RWMutex
	online map[string]uuid.UUID
}

// NewSessionResolver wraps fallback with an online-session fast path
func NewSessionResolver(fallback Resolver) *SessionResolver {
	return &SessionResolver{
		fallback: fallback,
		online:   make(map[string]uuid.UUID),
	}
}

// Track records an online session's identity
func (r *SessionResolver) Track(playerName string, id uuid.UUID) {
	r.mu.Lock()
	r.online[playerName] = id
	r.mu.Unlock()
}

// Forget drops a session from the fast path
func (r *SessionResolver) Forget(playerName string) {
	r.mu.Lock()
	delete(r.online, playerName)
	r.mu.Unlock()
}

// Resolve implements Resolver
func (r *SessionResolver) Resolve(ctx context.Context, playerName string) (uuid.UUID, error) {
	r.mu.RLock()
	id, ok := r.online[playerName]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}
	return r.fallback.Resolve(ctx, playerName)
}

// FromConfig returns the resolver for the configured identity mode
func FromConfig(mode string, lookupTimeout time.Duration) (Resolver, error) {
	switch mode {
	case "offline":
		return OfflineResolver{}, nil
	case "mojang":
		return NewMojangResolver(lookupTimeout), nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", mode)
	}
}
