// Package cycle runs the civic day cycle. Each calendar date has at most one
// cycle, which advances seed → sweep → seal → ledger and never moves back.
package cycle

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kaizencycle/Mobius-Systems/pkg/attest"
	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
	"github.com/kaizencycle/Mobius-Systems/pkg/identity"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/merkle"
	"github.com/kaizencycle/Mobius-Systems/pkg/policy"
)

// DateLayout is the cycle date format.
const DateLayout = "2006-01-02"

// Status is a cycle's phase.
type Status string

const (
	StatusSeed   Status = "seed"
	StatusSweep  Status = "sweep"
	StatusSeal   Status = "seal"
	StatusLedger Status = "ledger"
)

func (s Status) rank() int {
	switch s {
	case StatusSeed:
		return 0
	case StatusSweep:
		return 1
	case StatusSeal:
		return 2
	case StatusLedger:
		return 3
	}
	return -1
}

// Open reports whether the cycle still accepts sweeps and reflections.
func (s Status) Open() bool {
	return s == StatusSeed || s == StatusSweep
}

// Counts are the cycle's running counters. They never decrease.
type Counts struct {
	Seeds       int64 `json:"seeds"`
	Sweeps      int64 `json:"sweeps"`
	Seals       int64 `json:"seals"`
	Reflections int64 `json:"reflections"`
}

func (c Counts) covers(o Counts) bool {
	return c.Seeds >= o.Seeds && c.Sweeps >= o.Sweeps && c.Seals >= o.Seals && c.Reflections >= o.Reflections
}

// Cycle is one civic day.
type Cycle struct {
	ID         string   `json:"cycle_id"`
	Date       string   `json:"date"`
	Proposer   string   `json:"proposer"`
	SeedHash   string   `json:"seed_hash"`
	Sweeps     []string `json:"sweeps,omitempty"`
	SweepsRoot string   `json:"sweeps_root"`
	SealHash   string   `json:"seal_hash"`
	DayRoot    string   `json:"day_root"`
	Counts     Counts   `json:"counts"`
	Status     Status   `json:"status"`
	Timestamp  int64    `json:"timestamp"`
}

// Hash is the cycle's leaf digest in a block's cycle root.
func (c Cycle) Hash() string {
	return canonicalize.MustHash(c)
}

// ComputeDayRoot returns hash(seed‖sweeps_root‖seal).
func ComputeDayRoot(seed, sweepsRoot, seal string) string {
	return canonicalize.HashParts(seed, sweepsRoot, seal)
}

// ID returns the cycle id for a YYYY-MM-DD date.
func ID(date string) string {
	return "cycle_" + strings.ReplaceAll(date, "-", "")
}

func seedHash(date, proposer string, seeds int64) string {
	return canonicalize.HashParts("seed|", date, "|", proposer, "|", strconv.FormatInt(seeds, 10))
}

func sealHash(c *Cycle) string {
	return canonicalize.HashParts("seal|", c.Date, "|", c.SweepsRoot, "|",
		strconv.FormatInt(c.Counts.Sweeps, 10), "|", strconv.FormatInt(c.Counts.Reflections, 10))
}

func (c *Cycle) refresh() {
	c.SweepsRoot = merkle.Root(c.Sweeps)
	c.DayRoot = ComputeDayRoot(c.SeedHash, c.SweepsRoot, c.SealHash)
}

func (c Cycle) clone() Cycle {
	c.Sweeps = append([]string(nil), c.Sweeps...)
	return c
}

// Identities is the registry view the manager needs.
type Identities interface {
	Get(id string) (identity.Identity, error)
	RecordActivity(id string, delta float64) error
}

// PolicySource yields the active policy.
type PolicySource interface {
	Current() policy.Policy
}

// Manager owns every cycle and reflection.
type Manager struct {
	mu          sync.RWMutex
	cycles      map[string]*Cycle
	reflections map[string][]Reflection
	refSeq      int64

	ids      Identities
	policies PolicySource
	counter  Counter
	throttle *rate.Limiter
	prover   attest.ProofVerifier
	clock    func() time.Time
	logger   *slog.Logger
}

// NewManager creates a manager with an in-memory rate counter.
func NewManager(ids Identities, policies PolicySource) *Manager {
	return &Manager{
		cycles:      make(map[string]*Cycle),
		reflections: make(map[string][]Reflection),
		ids:         ids,
		policies:    policies,
		counter:     NewMemoryCounter(),
		clock:       time.Now,
		logger:      slog.Default().With("component", "cycle"),
	}
}

// WithCounter replaces the rate-limit counter backend.
func (m *Manager) WithCounter(c Counter) *Manager {
	m.counter = c
	return m
}

// WithThrottle caps reflection ingest across all identities.
func (m *Manager) WithThrottle(perSecond float64, burst int) *Manager {
	m.throttle = rate.NewLimiter(rate.Limit(perSecond), burst)
	return m
}

// WithProofVerifier sets the verifier for reflection proofs.
func (m *Manager) WithProofVerifier(p attest.ProofVerifier) *Manager {
	m.prover = p
	return m
}

// WithClock overrides clock for testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(l *slog.Logger) *Manager {
	m.logger = l.With("component", "cycle")
	return m
}

func (m *Manager) requireCitizen(op, id string) error {
	i, err := m.ids.Get(id)
	if err != nil || i.Kind != identity.KindCitizen {
		return kerr.ErrInvalidProposer.With(op, "%q is not a registered citizen", id)
	}
	return nil
}

// CreateCycle opens the cycle for date, proposed by a registered citizen.
func (m *Manager) CreateCycle(proposer, date string) (Cycle, error) {
	const op = "cycle.create"
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Cycle{}, kerr.ErrInvalidDate.With(op, "%q is not YYYY-MM-DD", date)
	}
	if err := m.requireCitizen(op, proposer); err != nil {
		return Cycle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := ID(date)
	if _, exists := m.cycles[id]; exists {
		return Cycle{}, kerr.ErrDuplicateCycle.With(op, "%s already exists", id)
	}
	c := &Cycle{
		ID:        id,
		Date:      date,
		Proposer:  proposer,
		Counts:    Counts{Seeds: 1},
		Status:    StatusSeed,
		Timestamp: m.clock().Unix(),
	}
	c.SeedHash = seedHash(date, proposer, c.Counts.Seeds)
	c.refresh()
	m.cycles[id] = c
	m.logger.Info("cycle created", "cycle_id", id, "proposer", proposer)
	return c.clone(), nil
}

func (m *Manager) open(op, id string) (*Cycle, error) {
	c, ok := m.cycles[id]
	if !ok {
		return nil, kerr.ErrUnknownCycle.With(op, "%q", id)
	}
	if !c.Status.Open() {
		return nil, kerr.ErrCycleClosed.With(op, "%s is %s", id, c.Status)
	}
	return c, nil
}

// Sweep adds a sweep digest to an open cycle and moves it to the sweep
// phase. Any registered identity may sweep.
func (m *Manager) Sweep(cycleID, sweeper, digest string) (Cycle, error) {
	const op = "cycle.sweep"
	if digest == "" {
		return Cycle{}, kerr.ErrValidation.With(op, "empty sweep digest")
	}
	if _, err := m.ids.Get(sweeper); err != nil {
		return Cycle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.open(op, cycleID)
	if err != nil {
		return Cycle{}, err
	}
	c.Sweeps = append(c.Sweeps, digest)
	c.Counts.Sweeps++
	c.Status = StatusSweep
	c.refresh()
	return c.clone(), nil
}

// Seal closes the cycle to further sweeps and reflections.
func (m *Manager) Seal(cycleID, sealer string) (Cycle, error) {
	const op = "cycle.seal"
	if err := m.requireCitizen(op, sealer); err != nil {
		return Cycle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.open(op, cycleID)
	if err != nil {
		return Cycle{}, err
	}
	c.Counts.Seals++
	c.Status = StatusSeal
	c.SweepsRoot = merkle.Root(c.Sweeps)
	c.SealHash = sealHash(c)
	c.refresh()
	m.logger.Info("cycle sealed", "cycle_id", cycleID, "day_root", c.DayRoot)
	return c.clone(), nil
}

// Anchor marks a sealed cycle as recorded on the ledger.
func (m *Manager) Anchor(cycleID string) error {
	const op = "cycle.anchor"
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cycles[cycleID]
	if !ok {
		return kerr.ErrUnknownCycle.With(op, "%q", cycleID)
	}
	switch c.Status {
	case StatusLedger:
		return nil
	case StatusSeal:
		c.Status = StatusLedger
		return nil
	}
	return kerr.ErrStatusRegression.With(op, "%s is %s, only sealed cycles are anchored", cycleID, c.Status)
}

// Validate checks a cycle record carried in a block: a real date, a
// citizen proposer, a consistent id and day root, and no regression against
// the locally known record. A known cycle keeps its proposer, seed, sweep
// prefix and seal.
func (m *Manager) Validate(c Cycle) error {
	const op = "cycle.validate"
	if _, err := time.Parse(DateLayout, c.Date); err != nil {
		return kerr.ErrInvalidDate.With(op, "%q is not YYYY-MM-DD", c.Date)
	}
	if c.ID != ID(c.Date) {
		return kerr.ErrValidation.With(op, "id %s does not match date %s", c.ID, c.Date)
	}
	if c.Status.rank() < 0 {
		return kerr.ErrValidation.With(op, "unknown status %q", c.Status)
	}
	if err := m.requireCitizen(op, c.Proposer); err != nil {
		return err
	}
	if merkle.Root(c.Sweeps) != c.SweepsRoot || ComputeDayRoot(c.SeedHash, c.SweepsRoot, c.SealHash) != c.DayRoot {
		return kerr.ErrRootMismatch.With(op, "%s day root does not recompute", c.ID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkForward(op, c)
}

func (m *Manager) checkForward(op string, c Cycle) error {
	cur, ok := m.cycles[c.ID]
	if !ok {
		return nil
	}
	if c.Proposer != cur.Proposer || c.SeedHash != cur.SeedHash {
		return kerr.ErrDuplicateCycle.With(op, "%s was seeded by %s, record names %s", c.ID, cur.Proposer, c.Proposer)
	}
	if cur.SealHash != "" && c.SealHash != cur.SealHash {
		return kerr.ErrDuplicateCycle.With(op, "%s is already sealed", c.ID)
	}
	if len(c.Sweeps) < len(cur.Sweeps) {
		return kerr.ErrStatusRegression.With(op, "%s sweeps would shrink", c.ID)
	}
	for i, d := range cur.Sweeps {
		if c.Sweeps[i] != d {
			return kerr.ErrDuplicateCycle.With(op, "%s sweep %d differs", c.ID, i)
		}
	}
	if c.Status.rank() < cur.Status.rank() {
		return kerr.ErrStatusRegression.With(op, "%s is %s, record says %s", c.ID, cur.Status, c.Status)
	}
	if !c.Counts.covers(cur.Counts) {
		return kerr.ErrStatusRegression.With(op, "%s counts would decrease", c.ID)
	}
	return nil
}

// Commit stores a cycle record received in a block.
func (m *Manager) Commit(c Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkForward("cycle.commit", c); err != nil {
		return err
	}
	cc := c.clone()
	m.cycles[c.ID] = &cc
	return nil
}

// Get returns the cycle.
func (m *Manager) Get(id string) (Cycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cycles[id]
	if !ok {
		return Cycle{}, kerr.ErrUnknownCycle.With("cycle.get", "%q", id)
	}
	return c.clone(), nil
}

// List returns every cycle ordered by date.
func (m *Manager) List() []Cycle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Cycle, 0, len(m.cycles))
	for _, c := range m.cycles {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// State is the serialisable manager contents.
type State struct {
	Cycles      []Cycle                 `json:"cycles"`
	Reflections map[string][]Reflection `json:"reflections,omitempty"`
	RefSeq      int64                   `json:"ref_seq"`
}

// State exports the manager.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := State{Reflections: make(map[string][]Reflection, len(m.reflections)), RefSeq: m.refSeq}
	for _, c := range m.cycles {
		s.Cycles = append(s.Cycles, c.clone())
	}
	sort.Slice(s.Cycles, func(i, j int) bool { return s.Cycles[i].Date < s.Cycles[j].Date })
	for id, refs := range m.reflections {
		s.Reflections[id] = append([]Reflection(nil), refs...)
	}
	return s
}

// Restore replaces the manager contents.
func (m *Manager) Restore(s State) error {
	cycles := make(map[string]*Cycle, len(s.Cycles))
	for _, c := range s.Cycles {
		if c.ID != ID(c.Date) {
			return kerr.ErrValidation.With("cycle.restore", "id %s does not match date %s", c.ID, c.Date)
		}
		cc := c.clone()
		cycles[c.ID] = &cc
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = cycles
	m.reflections = make(map[string][]Reflection, len(s.Reflections))
	for id, refs := range s.Reflections {
		m.reflections[id] = append([]Reflection(nil), refs...)
	}
	m.refSeq = s.RefSeq
	return nil
}

// Fork returns a copy sharing collaborators but not state.
func (m *Manager) Fork() *Manager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f := &Manager{
		cycles:      make(map[string]*Cycle, len(m.cycles)),
		reflections: make(map[string][]Reflection, len(m.reflections)),
		refSeq:      m.refSeq,
		ids:         m.ids,
		policies:    m.policies,
		counter:     m.counter,
		throttle:    m.throttle,
		prover:      m.prover,
		clock:       m.clock,
		logger:      m.logger,
	}
	for id, c := range m.cycles {
		cc := c.clone()
		f.cycles[id] = &cc
	}
	for id, refs := range m.reflections {
		f.reflections[id] = append([]Reflection(nil), refs...)
	}
	return f
}

// Adopt replaces the manager's state with the fork's.
func (m *Manager) Adopt(f *Manager) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = f.cycles
	m.reflections = f.reflections
	m.refSeq = f.refSeq
}
