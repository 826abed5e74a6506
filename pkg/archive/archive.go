// Package archive keeps a content-addressed copy of every committed block
// outside the kernel. Blocks are stored as brotli-compressed JSON keyed by
// block hash on a local directory, S3 or GCS. Calls to the backend pass
// through a circuit breaker so a dead bucket does not stall commit hooks.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/sony/gobreaker"

	"github.com/kaizencycle/Mobius-Systems/pkg/chain"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
	"github.com/kaizencycle/Mobius-Systems/pkg/observability"
)

// Backend stores opaque objects by key. Get returns an error matching
// kerr.ErrNotFound for missing keys.
type Backend interface {
	Name() string
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Archive writes and reads blocks through a Backend.
type Archive struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	logger  *slog.Logger
}

// BreakerSettings tunes the circuit breaker around the backend.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker. Zero means 5.
	ConsecutiveFailures uint32
	// Cooldown is how long the breaker stays open. Zero means 30s.
	Cooldown time.Duration
}

// New wraps backend.
func New(backend Backend, bs BreakerSettings) *Archive {
	if bs.ConsecutiveFailures == 0 {
		bs.ConsecutiveFailures = 5
	}
	if bs.Cooldown == 0 {
		bs.Cooldown = 30 * time.Second
	}
	a := &Archive{
		backend: backend,
		logger:  slog.Default().With("component", "archive", "backend", backend.Name()),
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "archive-" + backend.Name(),
		Timeout: bs.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= bs.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, kerr.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warn("archive breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return a
}

// WithLogger sets the logger.
func (a *Archive) WithLogger(l *slog.Logger) *Archive {
	a.logger = l.With("component", "archive", "backend", a.backend.Name())
	return a
}

// WithMetrics sets the metrics sink.
func (a *Archive) WithMetrics(m *observability.Metrics) *Archive {
	a.metrics = m
	return a
}

// Key is the object key for a block hash.
func Key(hash string) string {
	return "blocks/" + hash + ".json.br"
}

// Put archives b. Blocks already present are not rewritten.
func (a *Archive) Put(ctx context.Context, b chain.Block) (string, error) {
	const op = "archive.put"
	if b.Hash == "" || b.Hash != b.Header.Hash() {
		return "", kerr.ErrBlockHash.With(op, "block at height %d has no valid hash", b.Header.Height)
	}
	key := Key(b.Hash)
	_, err := a.breaker.Execute(func() (any, error) {
		ok, err := a.backend.Exists(ctx, key)
		if err != nil || ok {
			return nil, err
		}
		data, err := compress(b)
		if err != nil {
			return nil, err
		}
		return nil, a.backend.Put(ctx, key, data)
	})
	a.metrics.BlockArchived(ctx, a.backend.Name(), err)
	if err != nil {
		return "", fmt.Errorf("archive block %d: %w", b.Header.Height, err)
	}
	return key, nil
}

// Get loads the block archived under hash and checks that it hashes back to
// its key.
func (a *Archive) Get(ctx context.Context, hash string) (chain.Block, error) {
	const op = "archive.get"
	out, err := a.breaker.Execute(func() (any, error) {
		return a.backend.Get(ctx, Key(hash))
	})
	if err != nil {
		return chain.Block{}, fmt.Errorf("archive fetch %s: %w", hash, err)
	}
	b, err := decompress(out.([]byte))
	if err != nil {
		return chain.Block{}, kerr.Internal(op, err)
	}
	if b.Hash != hash || b.Header.Hash() != hash {
		return chain.Block{}, kerr.ErrBlockHash.With(op, "object %s holds block %s", hash, b.Header.Hash())
	}
	return b, nil
}

// Has reports whether a block with hash is archived.
func (a *Archive) Has(ctx context.Context, hash string) (bool, error) {
	out, err := a.breaker.Execute(func() (any, error) {
		return a.backend.Exists(ctx, Key(hash))
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

// Hook returns a commit hook that archives each block. Failures are logged;
// a block missing from the archive can be backfilled from the chain.
func (a *Archive) Hook(ctx context.Context) func(chain.Block) {
	return func(b chain.Block) {
		if _, err := a.Put(ctx, b); err != nil {
			a.logger.Error("block archive failed", "height", b.Header.Height, "hash", b.Hash, "error", err)
			return
		}
		a.logger.Debug("block archived", "height", b.Header.Height)
	}
}

// Backfill archives every block in blocks that is not already present.
func (a *Archive) Backfill(ctx context.Context, blocks []chain.Block) (int, error) {
	n := 0
	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := a.Put(ctx, b); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func compress(b chain.Block) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) (chain.Block, error) {
	raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	if err != nil {
		return chain.Block{}, err
	}
	var b chain.Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return chain.Block{}, err
	}
	return b, nil
}
