package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencycle/Mobius-Systems/pkg/chain"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/kernel"
	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

func committedBlocks(t *testing.T, n int) []chain.Block {
	t.Helper()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	k, err := kernel.New(kernel.Options{
		CitizenGrant: credit.Credits(100),
		Clock:        func() time.Time { return now },
	})
	require.NoError(t, err)
	a, err := k.RegisterCitizen("a1")
	require.NoError(t, err)
	b, err := k.RegisterCitizen("b2")
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, k.SubmitTransaction(k.Prepare(credit.TxTransfer, a, b, credit.Credits(1), "memo")))
		require.NoError(t, k.AddBlock(context.Background(), k.ProposePending(a)))
	}
	return k.Blocks()
}

func TestFileArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fb, err := NewFileBackend(dir)
	require.NoError(t, err)
	a := New(fb, BreakerSettings{})

	blocks := committedBlocks(t, 2)
	key, err := a.Put(ctx, blocks[1])
	require.NoError(t, err)
	assert.Equal(t, Key(blocks[1].Hash), key)

	info, err := os.Stat(filepath.Join(dir, "blocks", blocks[1].Hash+".json.br"))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	ok, err := a.Has(ctx, blocks[1].Hash)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.Has(ctx, blocks[0].Hash)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := a.Get(ctx, blocks[1].Hash)
	require.NoError(t, err)
	assert.Equal(t, blocks[1].Header.Hash(), got.Header.Hash())
	assert.Len(t, got.Transactions, 1)

	_, err = a.Get(ctx, blocks[0].Hash)
	assert.ErrorIs(t, err, kerr.ErrNotFound)
}

func TestPutRejectsUnhashedBlock(t *testing.T) {
	fb, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	b := committedBlocks(t, 1)[0]
	b.Header.Proposer = "someone-else"

	_, err = New(fb, BreakerSettings{}).Put(context.Background(), b)
	assert.ErrorIs(t, err, kerr.ErrBlockHash)
}

func TestGetDetectsSubstitutedObject(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fb, err := NewFileBackend(dir)
	require.NoError(t, err)
	a := New(fb, BreakerSettings{})

	blocks := committedBlocks(t, 2)
	_, err = a.Put(ctx, blocks[0])
	require.NoError(t, err)
	_, err = a.Put(ctx, blocks[1])
	require.NoError(t, err)

	// Serve block 0's bytes under block 1's key.
	src, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(Key(blocks[0].Hash))))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, filepath.FromSlash(Key(blocks[1].Hash))), src, 0o644))

	_, err = a.Get(ctx, blocks[1].Hash)
	assert.ErrorIs(t, err, kerr.ErrBlockHash)
}

func TestHookAndBackfill(t *testing.T) {
	ctx := context.Background()
	fb, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	a := New(fb, BreakerSettings{})
	blocks := committedBlocks(t, 3)

	a.Hook(ctx)(blocks[0])
	ok, err := a.Has(ctx, blocks[0].Hash)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := a.Backfill(ctx, blocks)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, b := range blocks {
		ok, err := a.Has(ctx, b.Hash)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

type flakyBackend struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Put(context.Context, string, []byte) error { return nil }

func (f *flakyBackend) Get(context.Context, string) ([]byte, error) {
	return nil, kerr.ErrNotFound.With("flaky", "missing")
}

func (f *flakyBackend) Exists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return false, errors.New("connection refused")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	fb := &flakyBackend{}
	a := New(fb, BreakerSettings{ConsecutiveFailures: 2, Cooldown: time.Hour})
	b := committedBlocks(t, 1)[0]

	for i := 0; i < 2; i++ {
		_, err := a.Put(ctx, b)
		require.Error(t, err)
		assert.False(t, errors.Is(err, gobreaker.ErrOpenState))
	}
	_, err := a.Put(ctx, b)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, fb.calls, "open breaker does not reach the backend")
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	a := New(&flakyBackend{}, BreakerSettings{ConsecutiveFailures: 1, Cooldown: time.Hour})
	for i := 0; i < 3; i++ {
		_, err := a.Get(context.Background(), "abc")
		assert.ErrorIs(t, err, kerr.ErrNotFound)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, Config{Kind: "none"})
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = Open(ctx, Config{Kind: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, a)

	_, err = Open(ctx, Config{Kind: "tape"})
	assert.ErrorIs(t, err, kerr.ErrValidation)

	_, err = Open(ctx, Config{Kind: "s3"})
	assert.ErrorIs(t, err, kerr.ErrValidation, "bucket is required")
}

// fakeS3 serves path-style PUT, GET and HEAD for a single bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		body, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3ArchiveRoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                aws.AnonymousCredentials{},
		RetryMaxAttempts:           1,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	a := New(NewS3BackendWithClient(client, "mobius", "prod/"), BreakerSettings{})
	ctx := context.Background()
	b := committedBlocks(t, 1)[0]

	ok, err := a.Has(ctx, b.Hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = a.Put(ctx, b)
	require.NoError(t, err)
	fake.mu.Lock()
	_, stored := fake.objects["mobius/prod/"+Key(b.Hash)]
	fake.mu.Unlock()
	assert.True(t, stored)

	got, err := a.Get(ctx, b.Hash)
	require.NoError(t, err)
	assert.Equal(t, b.Hash, got.Hash)

	_, err = a.Get(ctx, strings.Repeat("0", 64))
	assert.ErrorIs(t, err, kerr.ErrNotFound)
}
