// Package engine wires the store, the fast-read store, probes and jobs into
// one service object with an explicit lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"domainwarden/internal/config"
	"domainwarden/internal/database"
	"domainwarden/internal/logging"
	"domainwarden/internal/models"
	"domainwarden/internal/probe"
	"domainwarden/internal/routing"
	"domainwarden/internal/scheduler"
	"domainwarden/internal/services"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	JobNSCheck     = "ns_check"
	JobHealthCheck = "health_check"
	JobStatsDrain  = "stats_drain"
)

type Engine struct {
	cfg *config.Config
	db  *gorm.DB
	rdb *redis.Client

	store     *database.Store
	projector *routing.Projector
	drainer   *routing.Drainer
	ns        *services.NSChecker
	health    *services.HealthChecker
	inventory *services.Inventory
	sched     *scheduler.Scheduler

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	log     *log.Logger
}

// New opens both stores and builds every component. Nothing runs until Start.
func New(cfg *config.Config) (*Engine, error) {
	policy := probe.DefaultBanPolicy()
	if cfg.BanPolicyFile != "" {
		p, err := probe.LoadBanPolicy(cfg.BanPolicyFile)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	store := database.NewStore(db)
	projector := routing.NewProjector(rdb, store, cfg.SyncTimeout)
	nsProbe := probe.NewNSProbe(probe.NSConfig{Resolvers: cfg.DNSResolvers, Timeout: cfg.DNSTimeout})
	healthProbe := probe.NewHealthProbe(probe.HealthConfig{
		Timeout:     cfg.HTTPTimeout,
		MaxBodySize: cfg.HTTPMaxBody,
		Policy:      policy,
	})

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		db:        db,
		rdb:       rdb,
		store:     store,
		projector: projector,
		drainer:   routing.NewDrainer(rdb, store, cfg.SyncTimeout),
		ns:        services.NewNSChecker(store, nsProbe, projector),
		health:    services.NewHealthChecker(store, healthProbe, projector, cfg.HealthConcurrency),
		inventory: services.NewInventory(store, projector),
		sched:     scheduler.New(),
		ctx:       ctx,
		cancel:    cancel,
		log:       logging.New("engine"),
	}

	if err := e.registerJobs(); err != nil {
		e.close()
		return nil, err
	}
	e.log.Infof("Ban policy version %s with %d rules", policy.Version, len(policy.Rules))
	return e, nil
}

func (e *Engine) registerJobs() error {
	if err := e.sched.Add(JobHealthCheck, "Landing health check", e.cfg.HealthCheckInterval, func(ctx context.Context) error {
		_, err := e.health.RunAll(ctx)
		return err
	}); err != nil {
		return err
	}
	if err := e.sched.Add(JobNSCheck, "NS status check", e.cfg.NSCheckInterval, func(ctx context.Context) error {
		_, err := e.ns.RunAll(ctx)
		return err
	}); err != nil {
		return err
	}
	return e.sched.Add(JobStatsDrain, "Traffic counter drain", e.cfg.StatsDrainInterval, func(ctx context.Context) error {
		_, err := e.drainer.Drain(ctx)
		return err
	})
}

// Start initializes unset NS statuses and starts the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.ns.InitNSStatus(ctx); err != nil {
		return err
	}
	e.sched.Start(e.ctx)
	return nil
}

// Stop stops the scheduler, waits for background work and closes both stores.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.sched.Stop()
	e.cancel()
	e.wg.Wait()
	e.close()
	e.log.Info("Engine stopped")
}

func (e *Engine) close() {
	if err := e.rdb.Close(); err != nil {
		e.log.Warnf("Failed to close redis client: %v", err)
	}
	if sqlDB, err := e.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (e *Engine) Store() *database.Store { return e.store }

// Inventory is the mutation-hook seam for the external CRUD layer.
func (e *Engine) Inventory() *services.Inventory { return e.inventory }

func (e *Engine) NSChecker() *services.NSChecker { return e.ns }

func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }

// PingRedis reports whether the fast-read store answers.
func (e *Engine) PingRedis(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SyncTimeout)
	defer cancel()
	return e.rdb.Ping(ctx).Err()
}

// TriggerNSCheck starts a full NS pass unless one is already running.
func (e *Engine) TriggerNSCheck() (bool, error) {
	return e.sched.Trigger(JobNSCheck)
}

// TriggerHealthCheck starts a full health pass unless one is already running.
func (e *Engine) TriggerHealthCheck() (bool, error) {
	return e.sched.Trigger(JobHealthCheck)
}

// CheckProjectAsync validates the project and checks its landing pages in
// the background.
func (e *Engine) CheckProjectAsync(ctx context.Context, projectID uint) error {
	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	e.background("manual health check", func(ctx context.Context) error {
		report, err := e.health.CheckProject(ctx, projectID)
		if err == nil {
			e.log.Infof("Manual health check of project %d: %d checked, %d changed", projectID, report.Checked, report.Changed)
		}
		return err
	})
	return nil
}

// RebuildAsync replays the routing projection in the background.
func (e *Engine) RebuildAsync() {
	e.background("routing rebuild", func(ctx context.Context) error {
		_, err := e.projector.Rebuild(ctx)
		return err
	})
}

func (e *Engine) background(what string, fn func(ctx context.Context) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		e.log.Warnf("Engine stopping, dropping %s", what)
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := fn(e.ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Errorf("%s failed: %v", what, err)
		}
	}()
}

// DomainStatuses lists entry domains, optionally only those in nsStatus.
func (e *Engine) DomainStatuses(ctx context.Context, nsStatus models.NSStatus) ([]models.EntryDomain, error) {
	return e.store.ListEntryDomains(ctx, nsStatus)
}
