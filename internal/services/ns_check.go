package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"domainwarden/internal/database"
	"domainwarden/internal/logging"
	"domainwarden/internal/models"

	"github.com/labstack/gommon/log"
)

var errDomainGone = errors.New("entry domain deleted during check")

// NSChecker reconciles ns_status of entry domains against live DNS.
type NSChecker struct {
	store  *database.Store
	prober NSProber
	proj   Projection
	log    *log.Logger
	now    func() time.Time
}

func NewNSChecker(store *database.Store, prober NSProber, proj Projection) *NSChecker {
	return &NSChecker{
		store:  store,
		prober: prober,
		proj:   proj,
		log:    logging.New("ns-check"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RunAll checks every entry domain that carries an NS expectation.
func (c *NSChecker) RunAll(ctx context.Context) ([]Result, error) {
	domains, err := c.store.ListNSCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list NS candidates: %w", err)
	}
	c.log.Infof("Starting NS check of %d domains", len(domains))
	return c.checkAll(ctx, domains, models.CheckTypeNS)
}

// Check runs an on-demand pass over ids. Unknown ids are skipped.
func (c *NSChecker) Check(ctx context.Context, ids []uint, checkType models.CheckType) ([]Result, error) {
	domains, err := c.store.EntryDomainsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load domains: %w", err)
	}
	return c.checkAll(ctx, domains, checkType)
}

// InitNSStatus gives every domain without an ns_status its initial value.
func (c *NSChecker) InitNSStatus(ctx context.Context) (int, error) {
	n, err := c.store.InitNSStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to initialize NS status: %w", err)
	}
	if n > 0 {
		c.log.Infof("Initialized NS status of %d domains", n)
	}
	return n, nil
}

func (c *NSChecker) checkAll(ctx context.Context, domains []models.EntryDomain, checkType models.CheckType) ([]Result, error) {
	results := make([]Result, 0, len(domains))
	changed := 0

	for i := range domains {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		d := &domains[i]
		before := d.NSStatus
		res, err := c.checkOne(ctx, d, checkType)
		if errors.Is(err, errDomainGone) {
			continue
		}
		results = append(results, res)
		if err != nil {
			continue
		}
		if models.NSStatus(res.NewStatus) != before {
			changed++
			c.log.Infof("Domain %s NS status: %s -> %s", d.Domain, displayStatus(before), res.NewStatus)
		} else {
			c.log.Debugf("Domain %s NS status: %s (unchanged)", d.Domain, res.NewStatus)
		}
	}

	c.log.Infof("NS check finished: %d checked, %d changed", len(results), changed)
	return results, nil
}

// checkOne probes outside any transaction, then records the audit row and
// the new state in one commit and re-projects the domain.
func (c *NSChecker) checkOne(ctx context.Context, d *models.EntryDomain, checkType models.CheckType) (Result, error) {
	status, message := models.NSStatusUnknown, "no expected nameservers configured"
	if expected := d.ExpectedNameservers(); len(expected) > 0 {
		probed := c.prober.Probe(ctx, d.Domain, expected)
		status, message = probed.Status, probed.Message
	}

	now := c.now()
	updated, err := c.store.UpdateEntryDomain(ctx, d.ID, func(tx *database.Store, row *models.EntryDomain) error {
		if err := tx.AppendStatusLog(ctx, &models.DomainStatusLog{
			DomainID:  row.ID,
			CheckType: checkType,
			Status:    string(status),
			Message:   message,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("failed to write status log: %w", err)
		}
		ApplyNSResult(row, status, now)
		return nil
	})
	if errors.Is(err, database.ErrNotFound) {
		c.log.Debugf("Domain %s disappeared during check", d.Domain)
		return Result{}, errDomainGone
	}
	if err != nil {
		c.log.Errorf("Failed to record NS check of %s: %v", d.Domain, err)
		msg := "error during check: " + err.Error()
		c.recordFailure(ctx, d.ID, checkType, msg)
		return Result{EntityID: d.ID, NewStatus: string(models.NSStatusFailed), Message: msg}, err
	}

	c.proj.SyncDomain(ctx, updated)
	return Result{EntityID: d.ID, NewStatus: string(status), Message: message}, nil
}

// recordFailure writes a standalone failed audit row. It may fail too when
// the store itself is the problem; that is only logged.
func (c *NSChecker) recordFailure(ctx context.Context, domainID uint, checkType models.CheckType, msg string) {
	err := c.store.AppendStatusLog(ctx, &models.DomainStatusLog{
		DomainID:  domainID,
		CheckType: checkType,
		Status:    string(models.NSStatusFailed),
		Message:   msg,
		CreatedAt: c.now(),
	})
	if err != nil {
		c.log.Errorf("Failed to write failure log for domain %d: %v", domainID, err)
	}
}

// ApplyNSResult moves a domain to the probed status. Only active promotes the
// domain status; no outcome ever demotes it.
func ApplyNSResult(d *models.EntryDomain, status models.NSStatus, at time.Time) {
	d.NSStatus = status
	d.LastNSCheck = &at
	d.NSCheckCount++

	switch status {
	case models.NSStatusActive:
		if d.Status != models.DomainStatusOK {
			d.Status = models.DomainStatusOK
		}
	case models.NSStatusPending, models.NSStatusFailed, models.NSStatusUnknown, models.NSStatusUnset:
	}
}

func displayStatus(s models.NSStatus) string {
	if s == models.NSStatusUnset {
		return "unset"
	}
	return string(s)
}
