// Package services holds the reconciliation jobs and the mutation hooks that
// keep the routing projection in step with relational writes.
package services

import (
	"context"
	"errors"

	"domainwarden/internal/models"
	"domainwarden/internal/probe"
	"domainwarden/internal/routing"
)

var (
	ErrInvalidURL    = errors.New("URL must start with http:// or https://")
	ErrInvalidDomain = errors.New("invalid domain name")
	ErrPathInUse     = errors.New("custom path already in use")
	ErrProjectExists = errors.New("project name already exists")
)

// NSProber checks nameserver delegation. *probe.NSProbe implements it.
type NSProber interface {
	Probe(ctx context.Context, host string, expected []string) probe.NSResult
}

// HealthProber classifies a landing page. *probe.HealthProbe implements it.
type HealthProber interface {
	Probe(ctx context.Context, rawURL string) probe.HealthResult
}

// Projection is the routing view written after each relational commit.
// *routing.Projector implements it; results are already logged there.
type Projection interface {
	SyncDomain(ctx context.Context, d *models.EntryDomain) routing.SyncResult
	DeleteDomain(ctx context.Context, host string) routing.SyncResult
	SyncProjectPool(ctx context.Context, projectID uint) routing.SyncResult
	ClearProjectPool(ctx context.Context, projectID uint) routing.SyncResult
}

// Result is the per-entity outcome of a reconciliation pass.
type Result struct {
	EntityID  uint   `json:"entity_id"`
	NewStatus string `json:"new_status"`
	Message   string `json:"message"`
}
