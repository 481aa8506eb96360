package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"domainwarden/internal/database"
	"domainwarden/internal/models"
	"domainwarden/internal/probe"
	"domainwarden/internal/routing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store *database.Store
	mr    *miniredis.Miniredis
	proj  *routing.Projector
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.InitDB(filepath.Join(t.TempDir(), "services.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store := database.NewStore(db)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	return &testEnv{
		store: store,
		mr:    mr,
		proj:  routing.NewProjector(rdb, store, 200*time.Millisecond),
	}
}

func uintPtr(v uint) *uint { return &v }

// fakeNSProber answers from a fixed table and counts calls per host.
type fakeNSProber struct {
	mu      sync.Mutex
	results map[string]probe.NSResult
	calls   map[string]int
	onProbe func(host string)
}

func newFakeNSProber(results map[string]probe.NSResult) *fakeNSProber {
	return &fakeNSProber{results: results, calls: map[string]int{}}
}

func (f *fakeNSProber) Probe(ctx context.Context, host string, expected []string) probe.NSResult {
	if f.onProbe != nil {
		f.onProbe(host)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[host]++
	if res, ok := f.results[host]; ok {
		return res
	}
	return probe.NSResult{Status: models.NSStatusFailed, Message: "domain does not exist"}
}

func (f *fakeNSProber) callCount(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[host]
}

// fakeHealthProber bans the URLs listed in banned and tracks how many probes
// run at once.
type fakeHealthProber struct {
	mu      sync.Mutex
	banned  map[string]bool
	delay   time.Duration
	active  int
	maxSeen int
	total   int
}

func (f *fakeHealthProber) Probe(ctx context.Context, rawURL string) probe.HealthResult {
	f.mu.Lock()
	f.active++
	f.total++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	banned := f.banned[rawURL]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if banned {
		return probe.HealthResult{URL: rawURL, Status: models.LandingStatusBanned, StatusCode: 404, Rule: "not-found", Message: "HTTP 404"}
	}
	return probe.HealthResult{URL: rawURL, Status: models.LandingStatusOK, StatusCode: 200, Rule: "default", Message: "HTTP 200"}
}
