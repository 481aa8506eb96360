package routing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"domainwarden/internal/logging"
	"domainwarden/internal/metrics"
	"domainwarden/internal/models"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
)

// Sink receives drained counter values.
type Sink interface {
	InsertTrafficStats(ctx context.Context, row *models.TrafficStats) error
}

// Drainer moves gateway counters into TrafficStats rows.
type Drainer struct {
	rdb     redis.UniversalClient
	sink    Sink
	timeout time.Duration
	log     *log.Logger
}

func NewDrainer(rdb redis.UniversalClient, sink Sink, timeout time.Duration) *Drainer {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Drainer{
		rdb:     rdb,
		sink:    sink,
		timeout: timeout,
		log:     logging.New("drain"),
	}
}

type DrainReport struct {
	Keys     int   `json:"keys"`
	Rows     int   `json:"rows"`
	Total    int64 `json:"total"`
	Skipped  int   `json:"skipped"`
	Restored int   `json:"restored"`
	Failed   int   `json:"failed"`
}

// Drain reads and zeroes every stats:<kind>:project:<id> counter with GETDEL
// and inserts one row per non-zero value. A value whose insert fails is added
// back to its counter so the next drain retries it. Keys that do not parse are
// left untouched.
func (d *Drainer) Drain(ctx context.Context) (DrainReport, error) {
	var report DrainReport

	keys, err := d.scan(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to scan counters: %w", err)
	}

	for _, key := range keys {
		kind, projectID, ok := ParseStatsKey(key)
		if !ok {
			d.log.Debugf("Skipping unrecognised counter key %s", key)
			report.Skipped++
			continue
		}
		report.Keys++

		value, err := d.take(ctx, key)
		if err != nil {
			d.log.Warnf("Failed to drain %s: %v", key, err)
			report.Failed++
			continue
		}
		if value <= 0 {
			continue
		}

		row := &models.TrafficStats{ProjectID: projectID, Kind: kind, Count: value}
		if err := d.sink.InsertTrafficStats(ctx, row); err != nil {
			d.log.Errorf("Failed to store %d %s for project %d: %v", value, kind, projectID, err)
			report.Failed++
			if d.restore(ctx, key, value) {
				report.Restored++
			}
			continue
		}

		report.Rows++
		report.Total += value
		metrics.TrafficDrained.WithLabelValues(string(kind)).Add(float64(value))
	}

	if report.Rows > 0 || report.Failed > 0 {
		d.log.Infof("Drained %d counters into %d rows (%d total, %d failed)",
			report.Keys, report.Rows, report.Total, report.Failed)
	}
	return report, nil
}

func (d *Drainer) scan(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	seen := map[string]struct{}{}
	var keys []string
	iter := d.rdb.Scan(ctx, 0, statsPattern, 200).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, iter.Err()
}

// take atomically reads and removes a counter. A missing key reads as zero.
// A value that is not an integer is left in place so it can be inspected.
func (d *Drainer) take(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	raw, err := d.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
		return 0, fmt.Errorf("non-integer counter %q: %w", raw, err)
	}

	raw, err = d.rdb.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// overwritten between the two reads; put it back untouched
		if setErr := d.rdb.SetNX(ctx, key, raw, 0).Err(); setErr != nil {
			d.log.Errorf("Lost non-integer counter %s=%q: %v", key, raw, setErr)
		}
		return 0, fmt.Errorf("non-integer counter %q: %w", raw, err)
	}
	return value, nil
}

func (d *Drainer) restore(ctx context.Context, key string, value int64) bool {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.rdb.IncrBy(ctx, key, value).Err(); err != nil {
		d.log.Errorf("Lost %d from %s: push back failed: %v", value, key, err)
		return false
	}
	return true
}
