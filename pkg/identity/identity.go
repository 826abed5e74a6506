// Package identity is the append-only registry of citizens and their
// companions.
package identity

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

// Kind distinguishes citizens from companions.
type Kind string

const (
	KindCitizen   Kind = "citizen"
	KindCompanion Kind = "companion"
)

// ActivityDecay is applied to every activity score once per epoch.
const ActivityDecay = 0.99

// Identity is a registered participant.
type Identity struct {
	ID           string           `json:"id"`
	Kind         Kind             `json:"kind"`
	PublicKey    string           `json:"public_key"`
	Nonce        uint64           `json:"nonce"`
	Activity     float64          `json:"activity"`
	Owner        string           `json:"owner,omitempty"`
	Capabilities []string         `json:"capabilities,omitempty"`
	RateLimits   map[string]int64 `json:"rate_limits,omitempty"`
	RegisteredAt time.Time        `json:"registered_at"`
}

// Limit returns the identity's own rate limit for name, if it carries one.
func (i Identity) Limit(name string) (int64, bool) {
	v, ok := i.RateLimits[name]
	return v, ok
}

// DefaultCompanionLimits are assigned to every new companion.
func DefaultCompanionLimits() map[string]int64 {
	return map[string]int64{
		policy.LimitReflectionsPerDay:  10,
		policy.LimitAttestationsPerDay: 5,
	}
}

// State is the serialisable registry contents.
type State struct {
	Identities   []Identity `json:"identities"`
	CitizenSeq   int        `json:"citizen_seq"`
	CompanionSeq int        `json:"companion_seq"`
}

// Registry holds every identity ever registered. Identities are never
// removed.
type Registry struct {
	mu           sync.RWMutex
	identities   map[string]*Identity
	citizenSeq   int
	companionSeq int
	clock        func() time.Time
	logger       *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		identities: make(map[string]*Identity),
		clock:      time.Now,
		logger:     slog.Default().With("component", "identity"),
	}
}

// WithClock overrides clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// WithLogger sets the logger.
func (r *Registry) WithLogger(l *slog.Logger) *Registry {
	r.logger = l.With("component", "identity")
	return r
}

func validatePublicKey(op, pub string) error {
	pub = strings.TrimSpace(pub)
	if pub == "" {
		return kerr.ErrInvalidPublicKey.With(op, "public key is empty")
	}
	if _, err := hex.DecodeString(pub); err != nil {
		return kerr.ErrInvalidPublicKey.With(op, "public key is not hex: %v", err)
	}
	return nil
}

// RegisterCitizen registers a new citizen and returns its id.
func (r *Registry) RegisterCitizen(publicKey string) (string, error) {
	const op = "identity.register_citizen"
	if err := validatePublicKey(op, publicKey); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := fmt.Sprintf("citizen_%06d", r.citizenSeq)
	r.citizenSeq++
	r.identities[id] = &Identity{
		ID:           id,
		Kind:         KindCitizen,
		PublicKey:    strings.ToLower(strings.TrimSpace(publicKey)),
		RegisteredAt: r.clock(),
	}
	r.logger.Info("citizen registered", "id", id)
	return id, nil
}

// RegisterCompanion registers a companion owned by an existing citizen.
func (r *Registry) RegisterCompanion(publicKey, owner string, capabilities []string) (string, error) {
	const op = "identity.register_companion"
	if err := validatePublicKey(op, publicKey); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.identities[owner]
	if !ok || o.Kind != KindCitizen {
		return "", kerr.ErrInvalidOwner.With(op, "owner %q is not a registered citizen", owner)
	}

	caps := append([]string(nil), capabilities...)
	sort.Strings(caps)

	id := fmt.Sprintf("companion_%06d", r.companionSeq)
	r.companionSeq++
	r.identities[id] = &Identity{
		ID:           id,
		Kind:         KindCompanion,
		PublicKey:    strings.ToLower(strings.TrimSpace(publicKey)),
		Owner:        owner,
		Capabilities: caps,
		RateLimits:   DefaultCompanionLimits(),
		RegisteredAt: r.clock(),
	}
	r.logger.Info("companion registered", "id", id, "owner", owner)
	return id, nil
}

// Get returns a copy of the identity.
func (r *Registry) Get(id string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.identities[id]
	if !ok {
		return Identity{}, kerr.ErrUnknownIdentity.With("identity.get", "%q", id)
	}
	return copyIdentity(i), nil
}

// IsRegistered reports whether id is known.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.identities[id]
	return ok
}

// IsCitizen reports whether id is a registered citizen.
func (r *Registry) IsCitizen(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.identities[id]
	return ok && i.Kind == KindCitizen
}

// PublicKey returns the hex public key of id.
func (r *Registry) PublicKey(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.identities[id]
	if !ok {
		return "", false
	}
	return i.PublicKey, true
}

// List returns identities of the given kind sorted by id. An empty kind
// lists everything.
func (r *Registry) List(kind Kind) []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Identity, 0, len(r.identities))
	for _, i := range r.identities {
		if kind == "" || i.Kind == kind {
			out = append(out, copyIdentity(i))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// RecordActivity adds delta to the identity's activity score and bumps its
// nonce.
func (r *Registry) RecordActivity(id string, delta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.identities[id]
	if !ok {
		return kerr.ErrUnknownIdentity.With("identity.record_activity", "%q", id)
	}
	i.Activity += delta
	i.Nonce++
	return nil
}

// DecayActivity multiplies every activity score by factor.
func (r *Registry) DecayActivity(factor float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.identities {
		i.Activity *= factor
	}
}

// Len returns the number of identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

// State exports the registry.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := State{CitizenSeq: r.citizenSeq, CompanionSeq: r.companionSeq}
	for _, i := range r.identities {
		s.Identities = append(s.Identities, copyIdentity(i))
	}
	sort.Slice(s.Identities, func(a, b int) bool { return s.Identities[a].ID < s.Identities[b].ID })
	return s
}

// Restore replaces the registry contents.
func (r *Registry) Restore(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities = make(map[string]*Identity, len(s.Identities))
	for _, i := range s.Identities {
		c := copyIdentity(&i)
		r.identities[c.ID] = &c
	}
	r.citizenSeq = s.CitizenSeq
	r.companionSeq = s.CompanionSeq
}

func copyIdentity(i *Identity) Identity {
	c := *i
	c.Capabilities = append([]string(nil), i.Capabilities...)
	if i.RateLimits != nil {
		c.RateLimits = make(map[string]int64, len(i.RateLimits))
		for k, v := range i.RateLimits {
			c.RateLimits[k] = v
		}
	}
	return c
}
