package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"domainwarden/internal/database"
	"domainwarden/internal/logging"
	"domainwarden/internal/models"
	"domainwarden/internal/probe"

	"github.com/labstack/gommon/log"
)

var errNotBound = errors.New("domain not bound to project")

// Inventory is the write path for entry domains, projects and landing pages.
// Every call commits relationally first and then refreshes the routing
// projection; a projection failure never fails the call.
type Inventory struct {
	store *database.Store
	proj  Projection
	log   *log.Logger
}

func NewInventory(store *database.Store, proj Projection) *Inventory {
	return &Inventory{store: store, proj: proj, log: logging.New("inventory")}
}

// NormalizeHost lowercases a hostname and rejects anything that is not one.
func NormalizeHost(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" || len(host) > 253 || !strings.Contains(host, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, host)
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return "", fmt.Errorf("%w: %q", ErrInvalidDomain, host)
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
				return "", fmt.Errorf("%w: %q", ErrInvalidDomain, host)
			}
		}
	}
	return host, nil
}

// CreateEntryDomain inserts d with an ns_status that matches its expectation.
func (inv *Inventory) CreateEntryDomain(ctx context.Context, d *models.EntryDomain) error {
	host, err := NormalizeHost(d.Domain)
	if err != nil {
		return err
	}
	d.Domain = host
	d.NSServers = joinNameservers(d.ExpectedNameservers())
	d.NSStatus = d.InitialNSStatus()
	if d.Status == "" {
		d.Status = models.DomainStatusOK
	}
	if d.Provider == "" {
		d.Provider = "cloudflare"
	}
	if d.CustomPath != nil && *d.CustomPath == "" {
		d.CustomPath = nil
	}

	if err := inv.store.CreateEntryDomain(ctx, d); err != nil {
		return fmt.Errorf("failed to create entry domain %s: %w", host, err)
	}
	inv.proj.SyncDomain(ctx, d)
	return nil
}

func (inv *Inventory) DeleteEntryDomain(ctx context.Context, id uint) error {
	deleted, err := inv.store.DeleteEntryDomain(ctx, id)
	if err != nil {
		return err
	}
	inv.proj.DeleteDomain(ctx, deleted.Domain)
	return nil
}

// SetNameservers replaces the expected nameserver list. A changed
// expectation has to be verified again, so the domain goes back to pending;
// an empty one makes it unknown.
func (inv *Inventory) SetNameservers(ctx context.Context, id uint, servers []string) (*models.EntryDomain, error) {
	joined := joinNameservers(servers)
	d, err := inv.store.UpdateEntryDomain(ctx, id, func(_ *database.Store, d *models.EntryDomain) error {
		if d.NSServers == joined && d.NSStatus.Valid() {
			return nil
		}
		d.NSServers = joined
		d.NSStatus = d.InitialNSStatus()
		return nil
	})
	if err != nil {
		return nil, err
	}
	inv.proj.SyncDomain(ctx, d)
	return d, nil
}

// SetCustomPath assigns a routing path; an empty path clears it.
func (inv *Inventory) SetCustomPath(ctx context.Context, id uint, path string) (*models.EntryDomain, error) {
	path = strings.TrimSpace(path)
	d, err := inv.store.UpdateEntryDomain(ctx, id, func(tx *database.Store, d *models.EntryDomain) error {
		if path == "" {
			d.CustomPath = nil
			return nil
		}
		holder, err := tx.EntryDomainByCustomPath(ctx, path)
		switch {
		case errors.Is(err, database.ErrNotFound):
		case err != nil:
			return err
		case holder.ID != d.ID:
			return fmt.Errorf("%w: %s is used by %s", ErrPathInUse, path, holder.Domain)
		}
		d.CustomPath = &path
		return nil
	})
	if err != nil {
		return nil, err
	}
	inv.proj.SyncDomain(ctx, d)
	return d, nil
}

// SwitchProvider changes which CDN fronts the domain.
func (inv *Inventory) SwitchProvider(ctx context.Context, id uint, provider string) (*models.EntryDomain, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, errors.New("provider is required")
	}
	d, err := inv.store.UpdateEntryDomain(ctx, id, func(_ *database.Store, d *models.EntryDomain) error {
		d.Provider = provider
		return nil
	})
	if err != nil {
		return nil, err
	}
	inv.proj.SyncDomain(ctx, d)
	return d, nil
}

// BindEntryDomains attaches domains to a project and returns how many were
// bound. Unknown ids are skipped.
func (inv *Inventory) BindEntryDomains(ctx context.Context, projectID uint, ids []uint) (int, error) {
	if _, err := inv.store.GetProject(ctx, projectID); err != nil {
		return 0, fmt.Errorf("project %d: %w", projectID, err)
	}

	count := 0
	for _, id := range ids {
		d, err := inv.store.UpdateEntryDomain(ctx, id, func(_ *database.Store, d *models.EntryDomain) error {
			d.ProjectID = &projectID
			return nil
		})
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return count, err
		}
		inv.proj.SyncDomain(ctx, d)
		count++
	}
	return count, nil
}

// UnbindEntryDomains returns domains of a project to the idle pool. Domains
// not bound to the project are skipped.
func (inv *Inventory) UnbindEntryDomains(ctx context.Context, projectID uint, ids []uint) (int, error) {
	count := 0
	for _, id := range ids {
		d, err := inv.store.UpdateEntryDomain(ctx, id, func(_ *database.Store, d *models.EntryDomain) error {
			if d.ProjectID == nil || *d.ProjectID != projectID {
				return errNotBound
			}
			d.ProjectID = nil
			return nil
		})
		if errors.Is(err, database.ErrNotFound) || errors.Is(err, errNotBound) {
			continue
		}
		if err != nil {
			return count, err
		}
		inv.proj.SyncDomain(ctx, d)
		count++
	}
	return count, nil
}

func (inv *Inventory) CreateProject(ctx context.Context, name string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("project name is required")
	}
	if _, err := inv.store.ProjectByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectExists, name)
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	p := &models.Project{Name: name}
	if err := inv.store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create project %s: %w", name, err)
	}
	return p, nil
}

// DeleteProject unbinds the project's domains, deletes its landing pages and
// clears its pool.
func (inv *Inventory) DeleteProject(ctx context.Context, id uint) error {
	unbound, err := inv.store.DeleteProject(ctx, id)
	if err != nil {
		return err
	}
	for i := range unbound {
		inv.proj.SyncDomain(ctx, &unbound[i])
	}
	inv.proj.ClearProjectPool(ctx, id)
	inv.log.Infof("Deleted project %d, %d domains returned to the idle pool", id, len(unbound))
	return nil
}

// AddLanding adds one landing page, rejecting URLs without an http(s) scheme.
func (inv *Inventory) AddLanding(ctx context.Context, projectID uint, rawURL string) (*models.LandingDomain, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !probe.HasHTTPScheme(rawURL) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if _, err := inv.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("project %d: %w", projectID, err)
	}

	landings := []models.LandingDomain{{URL: rawURL, ProjectID: projectID, Status: models.LandingStatusOK}}
	if err := inv.store.AddLandings(ctx, landings); err != nil {
		return nil, err
	}
	inv.proj.SyncProjectPool(ctx, projectID)
	return &landings[0], nil
}

// AddLandings adds one landing page per non-blank line of urls. Lines without
// an http(s) scheme are skipped. It returns how many pages were added.
func (inv *Inventory) AddLandings(ctx context.Context, projectID uint, urls string) (int, error) {
	if _, err := inv.store.GetProject(ctx, projectID); err != nil {
		return 0, fmt.Errorf("project %d: %w", projectID, err)
	}

	var landings []models.LandingDomain
	for _, line := range strings.Split(urls, "\n") {
		u := strings.TrimSpace(line)
		if u == "" {
			continue
		}
		if !probe.HasHTTPScheme(u) {
			inv.log.Debugf("Skipping landing URL without scheme: %q", u)
			continue
		}
		landings = append(landings, models.LandingDomain{URL: u, ProjectID: projectID, Status: models.LandingStatusOK})
	}
	if len(landings) == 0 {
		return 0, nil
	}

	if err := inv.store.AddLandings(ctx, landings); err != nil {
		return 0, err
	}
	inv.proj.SyncProjectPool(ctx, projectID)
	return len(landings), nil
}

func (inv *Inventory) DeleteLandings(ctx context.Context, projectID uint, ids []uint) (int64, error) {
	n, err := inv.store.DeleteLandings(ctx, projectID, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		inv.proj.SyncProjectPool(ctx, projectID)
	}
	return n, nil
}

func joinNameservers(servers []string) string {
	return strings.Join(models.NormalizeNameservers(servers), ",")
}
