package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"domainwarden/internal/database"
	"domainwarden/internal/logging"
	"domainwarden/internal/models"
	"domainwarden/internal/probe"

	"github.com/labstack/gommon/log"
	"golang.org/x/sync/errgroup"
)

// HealthReport is the outcome of one health pass.
type HealthReport struct {
	Results  []Result `json:"results"`
	Checked  int      `json:"checked"`
	Changed  int      `json:"changed"`
	Projects []uint   `json:"projects"`
}

// HealthChecker reconciles landing page status. Probes fan out, writes are
// applied one row at a time.
type HealthChecker struct {
	store       *database.Store
	prober      HealthProber
	proj        Projection
	concurrency int
	log         *log.Logger
}

func NewHealthChecker(store *database.Store, prober HealthProber, proj Projection, concurrency int) *HealthChecker {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &HealthChecker{
		store:       store,
		prober:      prober,
		proj:        proj,
		concurrency: concurrency,
		log:         logging.New("health-check"),
	}
}

func (c *HealthChecker) RunAll(ctx context.Context) (HealthReport, error) {
	landings, err := c.store.ListLandings(ctx, nil)
	if err != nil {
		return HealthReport{}, fmt.Errorf("failed to list landing pages: %w", err)
	}
	c.log.Infof("Starting health check of %d landing pages", len(landings))
	return c.check(ctx, landings)
}

// CheckProject runs an on-demand pass over one project's landing pages.
func (c *HealthChecker) CheckProject(ctx context.Context, projectID uint) (HealthReport, error) {
	if _, err := c.store.GetProject(ctx, projectID); err != nil {
		return HealthReport{}, fmt.Errorf("project %d: %w", projectID, err)
	}
	landings, err := c.store.ListLandings(ctx, &projectID)
	if err != nil {
		return HealthReport{}, fmt.Errorf("failed to list landing pages: %w", err)
	}
	return c.check(ctx, landings)
}

func (c *HealthChecker) check(ctx context.Context, landings []models.LandingDomain) (HealthReport, error) {
	probed := make([]probe.HealthResult, len(landings))

	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i := range landings {
		g.Go(func() error {
			probed[i] = c.prober.Probe(ctx, landings[i].URL)
			return nil
		})
	}
	_ = g.Wait()

	// A cancelled pass would classify every page as unreachable.
	if err := ctx.Err(); err != nil {
		return HealthReport{}, err
	}

	report := HealthReport{Results: make([]Result, 0, len(landings))}
	touched := map[uint]struct{}{}

	for i, l := range landings {
		res := probed[i]
		report.Checked++
		report.Results = append(report.Results, Result{EntityID: l.ID, NewStatus: string(res.Status), Message: res.Message})

		if !landingChanged(l.Status, res.Status) {
			continue
		}
		if err := c.store.UpdateLandingStatus(ctx, l.ID, res.Status); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				c.log.Debugf("Landing page %d disappeared during check", l.ID)
			} else {
				c.log.Errorf("Failed to update landing page %s: %v", l.URL, err)
			}
			continue
		}
		report.Changed++
		touched[l.ProjectID] = struct{}{}
		c.log.Infof("Landing page %s status: %s -> %s (%s)", l.URL, l.Status, res.Status, res.Message)
	}

	for id := range touched {
		report.Projects = append(report.Projects, id)
	}
	sort.Slice(report.Projects, func(i, j int) bool { return report.Projects[i] < report.Projects[j] })
	for _, id := range report.Projects {
		c.proj.SyncProjectPool(ctx, id)
	}

	c.log.Infof("Health check finished: %d checked, %d changed", report.Checked, report.Changed)
	return report, nil
}

func landingChanged(old, next models.LandingStatus) bool {
	switch next {
	case models.LandingStatusOK, models.LandingStatusBanned:
		return old != next
	}
	return false
}
