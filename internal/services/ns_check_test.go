package services

import (
	"context"
	"testing"
	"time"

	"domainwarden/internal/models"
	"domainwarden/internal/probe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNSChecker_RunAllPromotesActiveDomain(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	d := &models.EntryDomain{
		Domain:    "example.test",
		Status:    models.DomainStatusPending,
		NSServers: "ada.ns.cloudflare.com,bob.ns.cloudflare.com",
		NSStatus:  models.NSStatusPending,
	}
	require.NoError(t, env.store.CreateEntryDomain(ctx, d))

	prober := newFakeNSProber(map[string]probe.NSResult{
		"example.test": {Status: models.NSStatusActive, Message: "NS records active. current: ada.ns.cloudflare.com, bob.ns.cloudflare.com; expected: ada.ns.cloudflare.com, bob.ns.cloudflare.com"},
	})
	checker := NewNSChecker(env.store, prober, env.proj)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return fixed }

	results, err := checker.RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, d.ID, results[0].EntityID)
	assert.Equal(t, "active", results[0].NewStatus)

	got, err := env.store.GetEntryDomain(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NSStatusActive, got.NSStatus)
	assert.Equal(t, models.DomainStatusOK, got.Status)
	assert.Equal(t, 1, got.NSCheckCount)
	require.NotNil(t, got.LastNSCheck)
	assert.WithinDuration(t, fixed, *got.LastNSCheck, time.Second)

	logs, err := env.store.RecentStatusLogs(ctx, d.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.CheckTypeNS, logs[0].CheckType)
	assert.Equal(t, "active", logs[0].Status)
	assert.Contains(t, logs[0].Message, "NS records active")

	assert.Equal(t, "ok", env.mr.HGet("domain:example.test", "status"))
}

func TestNSChecker_NeverDemotes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	d := &models.EntryDomain{
		Domain:    "stable.test",
		Status:    models.DomainStatusOK,
		NSServers: "ada.ns.cloudflare.com",
		NSStatus:  models.NSStatusActive,
	}
	require.NoError(t, env.store.CreateEntryDomain(ctx, d))

	prober := newFakeNSProber(map[string]probe.NSResult{
		"stable.test": {Status: models.NSStatusFailed, Message: "DNS query failed: timeout"},
	})
	checker := NewNSChecker(env.store, prober, env.proj)

	for i := 0; i < 2; i++ {
		_, err := checker.RunAll(ctx)
		require.NoError(t, err)
	}

	got, err := env.store.GetEntryDomain(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NSStatusFailed, got.NSStatus)
	assert.Equal(t, models.DomainStatusOK, got.Status)
	assert.Equal(t, 2, got.NSCheckCount)
}

func TestNSChecker_RunAllSkipsDomainsWithoutExpectation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	plain := &models.EntryDomain{Domain: "plain.test", NSStatus: models.NSStatusUnknown}
	require.NoError(t, env.store.CreateEntryDomain(ctx, plain))

	prober := newFakeNSProber(nil)
	results, err := NewNSChecker(env.store, prober, env.proj).RunAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, prober.callCount("plain.test"))
}

func TestNSChecker_ManualCheck(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	plain := &models.EntryDomain{Domain: "plain.test", NSStatus: models.NSStatusUnknown}
	moving := &models.EntryDomain{Domain: "moving.test", NSServers: "ada.ns.cloudflare.com", NSStatus: models.NSStatusPending}
	require.NoError(t, env.store.CreateEntryDomain(ctx, plain))
	require.NoError(t, env.store.CreateEntryDomain(ctx, moving))

	prober := newFakeNSProber(map[string]probe.NSResult{
		"moving.test": {Status: models.NSStatusPending, Message: "NS records not active yet. current: old.ns.test; expected: ada.ns.cloudflare.com"},
	})
	checker := NewNSChecker(env.store, prober, env.proj)

	results, err := checker.Check(ctx, []uint{plain.ID, moving.ID, 999}, models.CheckTypeManualNS)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[uint]Result{}
	for _, r := range results {
		byID[r.EntityID] = r
	}
	assert.Equal(t, "unknown", byID[plain.ID].NewStatus)
	assert.Equal(t, "pending", byID[moving.ID].NewStatus)
	assert.Zero(t, prober.callCount("plain.test"))
	assert.Equal(t, 1, prober.callCount("moving.test"))

	logs, err := env.store.RecentStatusLogs(ctx, plain.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.CheckTypeManualNS, logs[0].CheckType)
	assert.Equal(t, "unknown", logs[0].Status)

	got, err := env.store.GetEntryDomain(ctx, moving.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NSStatusPending, got.NSStatus)
	assert.Equal(t, 1, got.NSCheckCount)
}

func TestNSChecker_RedisOutageDoesNotBlockCommit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.mr.Close()

	d := &models.EntryDomain{Domain: "example.test", Status: models.DomainStatusPending, NSServers: "ada.ns.cloudflare.com", NSStatus: models.NSStatusPending}
	require.NoError(t, env.store.CreateEntryDomain(ctx, d))

	prober := newFakeNSProber(map[string]probe.NSResult{"example.test": {Status: models.NSStatusActive, Message: "NS records active"}})
	results, err := NewNSChecker(env.store, prober, env.proj).RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)

	got, err := env.store.GetEntryDomain(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NSStatusActive, got.NSStatus)
	assert.Equal(t, models.DomainStatusOK, got.Status)
}

func TestNSChecker_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	d := &models.EntryDomain{Domain: "example.test", NSServers: "ada.ns.cloudflare.com", NSStatus: models.NSStatusPending}
	require.NoError(t, env.store.CreateEntryDomain(context.Background(), d))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prober := newFakeNSProber(nil)
	checker := NewNSChecker(env.store, prober, env.proj)
	_, err := checker.RunAll(ctx)
	assert.Error(t, err)
	assert.Zero(t, prober.callCount("example.test"))
}

func TestNSChecker_SkipsDomainDeletedMidPass(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	gone := &models.EntryDomain{Domain: "gone.test", NSServers: "ada.ns.cloudflare.com", NSStatus: models.NSStatusPending}
	kept := &models.EntryDomain{Domain: "kept.test", NSServers: "ada.ns.cloudflare.com", NSStatus: models.NSStatusPending}
	require.NoError(t, env.store.CreateEntryDomain(ctx, gone))
	require.NoError(t, env.store.CreateEntryDomain(ctx, kept))

	prober := newFakeNSProber(map[string]probe.NSResult{
		"kept.test": {Status: models.NSStatusActive, Message: "NS records active"},
	})
	prober.onProbe = func(host string) {
		if host == "gone.test" {
			_, err := env.store.DeleteEntryDomain(ctx, gone.ID)
			require.NoError(t, err)
		}
	}

	results, err := NewNSChecker(env.store, prober, env.proj).RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, kept.ID, results[0].EntityID)
	assert.Equal(t, "active", results[0].NewStatus)

	logs, err := env.store.RecentStatusLogs(ctx, gone.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.False(t, env.mr.Exists("domain:gone.test"))
}

func TestNSChecker_InitNSStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.store.CreateEntryDomain(ctx, &models.EntryDomain{Domain: "a.test", NSServers: "ns1.test"}))
	require.NoError(t, env.store.CreateEntryDomain(ctx, &models.EntryDomain{Domain: "b.test"}))

	checker := NewNSChecker(env.store, newFakeNSProber(nil), env.proj)
	n, err := checker.InitNSStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = checker.InitNSStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := env.store.ListEntryDomains(ctx, models.NSStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a.test", pending[0].Domain)
}

func TestApplyNSResult(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		status     models.DomainStatus
		result     models.NSStatus
		wantStatus models.DomainStatus
	}{
		{"active promotes pending", models.DomainStatusPending, models.NSStatusActive, models.DomainStatusOK},
		{"active promotes banned", models.DomainStatusBanned, models.NSStatusActive, models.DomainStatusOK},
		{"active keeps ok", models.DomainStatusOK, models.NSStatusActive, models.DomainStatusOK},
		{"failed keeps ok", models.DomainStatusOK, models.NSStatusFailed, models.DomainStatusOK},
		{"pending keeps pending", models.DomainStatusPending, models.NSStatusPending, models.DomainStatusPending},
		{"unknown keeps banned", models.DomainStatusBanned, models.NSStatusUnknown, models.DomainStatusBanned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &models.EntryDomain{Status: tt.status, NSCheckCount: 4}
			ApplyNSResult(d, tt.result, at)
			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, tt.result, d.NSStatus)
			assert.Equal(t, 5, d.NSCheckCount)
			assert.Equal(t, at, *d.LastNSCheck)
		})
	}
}
