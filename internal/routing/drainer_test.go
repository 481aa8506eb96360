package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"domainwarden/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *failingSink) InsertTrafficStats(ctx context.Context, row *models.TrafficStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return assert.AnError
}

func TestDrainer_DrainMovesCountersIntoRows(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	store := newTestStore(t)
	d := NewDrainer(rdb, store, time.Second)

	require.NoError(t, mr.Set(StatsKey(models.StatKindHit, 3), "42"))
	require.NoError(t, mr.Set(StatsKey(models.StatKindBot, 3), "5"))
	require.NoError(t, mr.Set(StatsKey(models.StatKindHit, 4), "0"))

	report, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Keys)
	assert.Equal(t, 2, report.Rows)
	assert.Equal(t, int64(47), report.Total)

	rows, err := store.ListTrafficStats(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	counts := map[models.StatKind]int64{}
	for _, r := range rows {
		counts[r.Kind] = r.Count
	}
	assert.Equal(t, map[models.StatKind]int64{models.StatKindHit: 42, models.StatKindBot: 5}, counts)

	rows, err = store.ListTrafficStats(ctx, 4)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.False(t, mr.Exists(StatsKey(models.StatKindHit, 3)))

	// a second pass over drained counters writes nothing
	report, err = d.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Rows)

	// increments after a drain land in the next one
	_, err = mr.Incr(StatsKey(models.StatKindHit, 3), 2)
	require.NoError(t, err)
	report, err = d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rows)
	rows, err = store.ListTrafficStats(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestDrainer_SkipsUnrecognisedKeys(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	store := newTestStore(t)
	d := NewDrainer(rdb, store, time.Second)

	for _, k := range []string{"stats:visit:project:3", "stats:hit:project:abc", "stats:hit:project:3:extra"} {
		require.NoError(t, mr.Set(k, "9"))
	}

	report, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Skipped)
	assert.Zero(t, report.Rows)

	for _, k := range []string{"stats:visit:project:3", "stats:hit:project:abc", "stats:hit:project:3:extra"} {
		v, err := mr.Get(k)
		require.NoError(t, err)
		assert.Equal(t, "9", v, k)
	}
}

func TestDrainer_LeavesNonIntegerCounter(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	store := newTestStore(t)
	d := NewDrainer(rdb, store, time.Second)

	bad := StatsKey(models.StatKindBot, 4)
	good := StatsKey(models.StatKindHit, 4)
	require.NoError(t, mr.Set(bad, "12x"))
	require.NoError(t, mr.Set(good, "5"))

	report, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Rows)

	v, err := mr.Get(bad)
	require.NoError(t, err)
	assert.Equal(t, "12x", v)
	assert.False(t, mr.Exists(good))
}

func TestDrainer_InsertFailurePushesValueBack(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	sink := &failingSink{}
	d := NewDrainer(rdb, sink, time.Second)

	key := StatsKey(models.StatKindHit, 8)
	require.NoError(t, mr.Set(key, "17"))

	report, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Restored)
	assert.Equal(t, 1, sink.calls)

	v, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "17", v)
}

func TestDrainer_EmptyStore(t *testing.T) {
	_, rdb := newTestRedis(t)
	d := NewDrainer(rdb, &failingSink{}, time.Second)

	report, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainReport{}, report)
}

func TestDrainer_RedisUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	d := NewDrainer(rdb, &failingSink{}, 200*time.Millisecond)
	mr.Close()

	_, err := d.Drain(context.Background())
	assert.Error(t, err)
}

func TestParseStatsKey(t *testing.T) {
	tests := []struct {
		key     string
		kind    models.StatKind
		project uint
		ok      bool
	}{
		{"stats:hit:project:3", models.StatKindHit, 3, true},
		{"stats:bot:project:12", models.StatKindBot, 12, true},
		{"stats:visit:project:3", "", 0, false},
		{"stats:hit:project:", "", 0, false},
		{"stats:hit:project:0", "", 0, false},
		{"stats:hit:proj:3", "", 0, false},
		{"domain:a.test", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			kind, project, ok := ParseStatsKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.project, project)
		})
	}
	assert.Equal(t, "stats:hit:project:3", StatsKey(models.StatKindHit, 3))
}
