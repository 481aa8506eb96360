// Package routing keeps the Redis view read by the edge gateway in step with
// the relational store and drains the gateway's traffic counters back.
//
// Redis is never the system of record: every write here happens after the
// relational commit, failures are reported as SyncResult values and the next
// sync or a Rebuild converges the view.
package routing

import (
	"context"
	"fmt"
	"time"

	"domainwarden/internal/logging"
	"domainwarden/internal/metrics"
	"domainwarden/internal/models"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
)

type Op string

const (
	OpSyncDomain   Op = "sync_domain"
	OpDeleteDomain Op = "delete_domain"
	OpSyncPool     Op = "sync_pool"
	OpClearPool    Op = "clear_pool"
	OpDeleteOrphan Op = "delete_orphan"
)

// SyncResult describes one projection write.
type SyncResult struct {
	Op  Op
	Key string
	Err error
}

func (r SyncResult) OK() bool { return r.Err == nil }

// Source is the relational data a projection is built from.
type Source interface {
	ListEntryDomains(ctx context.Context, nsStatus models.NSStatus) ([]models.EntryDomain, error)
	ProjectIDs(ctx context.Context) ([]uint, error)
	OKLandingURLs(ctx context.Context, projectID uint) ([]string, error)
}

type Projector struct {
	rdb     redis.UniversalClient
	src     Source
	timeout time.Duration
	log     *log.Logger
}

func NewProjector(rdb redis.UniversalClient, src Source, timeout time.Duration) *Projector {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Projector{
		rdb:     rdb,
		src:     src,
		timeout: timeout,
		log:     logging.New("routing"),
	}
}

// DomainFields is the hash written for an entry domain.
func DomainFields(d *models.EntryDomain) map[string]any {
	projectID := models.NoProject
	if d.ProjectID != nil {
		projectID = fmt.Sprintf("%d", *d.ProjectID)
	}
	customPath := ""
	if d.CustomPath != nil {
		customPath = *d.CustomPath
	}
	return map[string]any{
		"status":      string(d.Status),
		"project_id":  projectID,
		"provider":    d.Provider,
		"custom_path": customPath,
	}
}

// SyncDomain replaces domain:<host> with the current row in one MULTI block.
func (p *Projector) SyncDomain(ctx context.Context, d *models.EntryDomain) SyncResult {
	key := DomainKey(d.Domain)
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, DomainFields(d))
		return nil
	})
	return p.report(SyncResult{Op: OpSyncDomain, Key: key, Err: err})
}

func (p *Projector) DeleteDomain(ctx context.Context, host string) SyncResult {
	key := DomainKey(host)
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.rdb.Del(ctx, key).Err()
	return p.report(SyncResult{Op: OpDeleteDomain, Key: key, Err: err})
}

// SyncProjectPool replaces the pool with the project's ok landing URLs in id
// order. A project without ok pages ends up with no key at all.
func (p *Projector) SyncProjectPool(ctx context.Context, projectID uint) SyncResult {
	key := PoolKey(projectID)

	urls, err := p.src.OKLandingURLs(ctx, projectID)
	if err != nil {
		return p.report(SyncResult{Op: OpSyncPool, Key: key, Err: fmt.Errorf("failed to read landing pool: %w", err)})
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(urls) > 0 {
			values := make([]any, len(urls))
			for i, u := range urls {
				values[i] = u
			}
			pipe.RPush(ctx, key, values...)
		}
		return nil
	})
	return p.report(SyncResult{Op: OpSyncPool, Key: key, Err: err})
}

func (p *Projector) ClearProjectPool(ctx context.Context, projectID uint) SyncResult {
	key := PoolKey(projectID)
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.rdb.Del(ctx, key).Err()
	return p.report(SyncResult{Op: OpClearPool, Key: key, Err: err})
}

// RebuildReport summarises a full replay.
type RebuildReport struct {
	Domains int `json:"domains"`
	Pools   int `json:"pools"`
	Orphans int `json:"orphans"`
	Failed  int `json:"failed"`
}

// Rebuild replays every entry domain and project pool from the relational
// store and removes routing keys that no longer have an owner. Only
// relational read errors are returned; Redis failures are counted.
func (p *Projector) Rebuild(ctx context.Context) (RebuildReport, error) {
	var report RebuildReport

	domains, err := p.src.ListEntryDomains(ctx, models.NSStatusUnset)
	if err != nil {
		return report, fmt.Errorf("failed to list entry domains: %w", err)
	}
	projectIDs, err := p.src.ProjectIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list projects: %w", err)
	}

	owned := make(map[string]struct{}, len(domains)+len(projectIDs))
	for i := range domains {
		res := p.SyncDomain(ctx, &domains[i])
		owned[res.Key] = struct{}{}
		if res.OK() {
			report.Domains++
		} else {
			report.Failed++
		}
	}
	for _, id := range projectIDs {
		res := p.SyncProjectPool(ctx, id)
		owned[res.Key] = struct{}{}
		if res.OK() {
			report.Pools++
		} else {
			report.Failed++
		}
	}

	for _, pattern := range []string{domainPattern, poolPattern} {
		keys, err := p.scan(ctx, pattern)
		if err != nil {
			p.log.Warnf("Rebuild: scan %s failed: %v", pattern, err)
			report.Failed++
			continue
		}
		for _, key := range keys {
			if _, ok := owned[key]; ok {
				continue
			}
			if pattern == poolPattern && !isPoolKey(key) {
				continue
			}
			if p.deleteKey(ctx, key).OK() {
				report.Orphans++
			} else {
				report.Failed++
			}
		}
	}

	p.log.Infof("Rebuild: %d domains, %d pools, %d orphans removed, %d failures",
		report.Domains, report.Pools, report.Orphans, report.Failed)
	return report, nil
}

func (p *Projector) deleteKey(ctx context.Context, key string) SyncResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.report(SyncResult{Op: OpDeleteOrphan, Key: key, Err: p.rdb.Del(ctx, key).Err()})
}

func (p *Projector) scan(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	seen := map[string]struct{}{}
	var keys []string
	iter := p.rdb.Scan(ctx, 0, pattern, 200).Iterator()
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

func (p *Projector) report(res SyncResult) SyncResult {
	outcome := "ok"
	if res.Err != nil {
		outcome = "error"
		p.log.Warnf("%s %s failed: %v", res.Op, res.Key, res.Err)
	} else {
		p.log.Debugf("%s %s", res.Op, res.Key)
	}
	metrics.RoutingSync.WithLabelValues(string(res.Op), outcome).Inc()
	return res
}
