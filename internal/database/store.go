package database

import (
	"context"
	"errors"
	"fmt"

	"domainwarden/internal/models"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

// Store is the relational system of record. A Store obtained inside
// Transaction is bound to that transaction.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn in a single transaction, committing when fn returns nil.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// --- entry domains ---

// ListNSCandidates returns entry domains that carry an NS expectation.
func (s *Store) ListNSCandidates(ctx context.Context) ([]models.EntryDomain, error) {
	var domains []models.EntryDomain
	err := s.db.WithContext(ctx).
		Where("ns_servers IS NOT NULL AND ns_servers <> ''").
		Order("id").
		Find(&domains).Error
	return domains, err
}

func (s *Store) EntryDomainsByIDs(ctx context.Context, ids []uint) ([]models.EntryDomain, error) {
	var domains []models.EntryDomain
	if len(ids) == 0 {
		return domains, nil
	}
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&domains).Error
	return domains, err
}

// ListEntryDomains lists all entry domains, optionally filtered by NS status.
// Filtering on unknown also matches rows not initialized yet.
func (s *Store) ListEntryDomains(ctx context.Context, nsStatus models.NSStatus) ([]models.EntryDomain, error) {
	var domains []models.EntryDomain
	q := s.db.WithContext(ctx).Order("id")
	switch nsStatus {
	case models.NSStatusUnset:
	case models.NSStatusUnknown:
		q = q.Where("ns_status IN ?", []string{string(models.NSStatusUnknown), string(models.NSStatusUnset)})
	default:
		q = q.Where("ns_status = ?", nsStatus)
	}
	err := q.Find(&domains).Error
	return domains, err
}

func (s *Store) GetEntryDomain(ctx context.Context, id uint) (*models.EntryDomain, error) {
	var d models.EntryDomain
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// EntryDomainByCustomPath returns the domain holding path, if any.
func (s *Store) EntryDomainByCustomPath(ctx context.Context, path string) (*models.EntryDomain, error) {
	var d models.EntryDomain
	if err := s.db.WithContext(ctx).Where("custom_path = ?", path).First(&d).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s *Store) CreateEntryDomain(ctx context.Context, d *models.EntryDomain) error {
	return s.db.WithContext(ctx).Create(d).Error
}

// UpdateEntryDomain loads the row inside a transaction, lets fn mutate it and
// saves every column. fn may write further rows through tx.
func (s *Store) UpdateEntryDomain(ctx context.Context, id uint, fn func(tx *Store, d *models.EntryDomain) error) (*models.EntryDomain, error) {
	var updated *models.EntryDomain
	err := s.Transaction(ctx, func(tx *Store) error {
		d, err := tx.GetEntryDomain(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, d); err != nil {
			return err
		}
		if err := tx.db.WithContext(ctx).Save(d).Error; err != nil {
			return fmt.Errorf("failed to save entry domain %d: %w", id, err)
		}
		updated = d
		return nil
	})
	return updated, err
}

// DeleteEntryDomain removes the row and returns it so callers can drop its projection.
func (s *Store) DeleteEntryDomain(ctx context.Context, id uint) (*models.EntryDomain, error) {
	var deleted *models.EntryDomain
	err := s.Transaction(ctx, func(tx *Store) error {
		d, err := tx.GetEntryDomain(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.db.WithContext(ctx).Delete(&models.EntryDomain{}, id).Error; err != nil {
			return err
		}
		deleted = d
		return nil
	})
	return deleted, err
}

// InitNSStatus sets ns_status on rows that have none yet and returns how many
// rows it touched. Initialized rows are left alone.
func (s *Store) InitNSStatus(ctx context.Context) (int, error) {
	count := 0
	err := s.Transaction(ctx, func(tx *Store) error {
		var unset []models.EntryDomain
		if err := tx.db.WithContext(ctx).
			Where("ns_status IS NULL OR ns_status = ''").
			Find(&unset).Error; err != nil {
			return err
		}
		for i := range unset {
			d := &unset[i]
			if err := tx.db.WithContext(ctx).Model(d).
				Update("ns_status", d.InitialNSStatus()).Error; err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// --- audit log ---

func (s *Store) AppendStatusLog(ctx context.Context, entry *models.DomainStatusLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// RecentStatusLogs returns up to limit rows for a domain, newest first.
func (s *Store) RecentStatusLogs(ctx context.Context, domainID uint, limit int) ([]models.DomainStatusLog, error) {
	var logs []models.DomainStatusLog
	err := s.db.WithContext(ctx).
		Where("domain_id = ?", domainID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// --- projects and landing pages ---

func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *Store) GetProject(ctx context.Context, id uint) (*models.Project, error) {
	var p models.Project
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) ProjectByName(ctx context.Context, name string) (*models.Project, error) {
	var p models.Project
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *Store) ProjectIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Project{}).Order("id").Pluck("id", &ids).Error
	return ids, err
}

// DeleteProject unbinds the project's entry domains, deletes its landing
// pages and the project itself. The unbound domains are returned.
func (s *Store) DeleteProject(ctx context.Context, id uint) ([]models.EntryDomain, error) {
	var unbound []models.EntryDomain
	err := s.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.GetProject(ctx, id); err != nil {
			return err
		}
		db := tx.db.WithContext(ctx)
		if err := db.Where("project_id = ?", id).Order("id").Find(&unbound).Error; err != nil {
			return err
		}
		if err := db.Model(&models.EntryDomain{}).Where("project_id = ?", id).
			Update("project_id", nil).Error; err != nil {
			return err
		}
		if err := db.Where("project_id = ?", id).Delete(&models.LandingDomain{}).Error; err != nil {
			return err
		}
		return db.Delete(&models.Project{}, id).Error
	})
	if err != nil {
		return nil, err
	}
	for i := range unbound {
		unbound[i].ProjectID = nil
	}
	return unbound, nil
}

// ListLandings returns landing pages ordered by id, all of them when projectID is nil.
func (s *Store) ListLandings(ctx context.Context, projectID *uint) ([]models.LandingDomain, error) {
	var landings []models.LandingDomain
	q := s.db.WithContext(ctx).Order("id")
	if projectID != nil {
		q = q.Where("project_id = ?", *projectID)
	}
	err := q.Find(&landings).Error
	return landings, err
}

func (s *Store) AddLandings(ctx context.Context, landings []models.LandingDomain) error {
	if len(landings) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&landings).Error
}

func (s *Store) DeleteLandings(ctx context.Context, projectID uint, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("project_id = ? AND id IN ?", projectID, ids).
		Delete(&models.LandingDomain{})
	return res.RowsAffected, res.Error
}

func (s *Store) UpdateLandingStatus(ctx context.Context, id uint, status models.LandingStatus) error {
	return s.Transaction(ctx, func(tx *Store) error {
		res := tx.db.WithContext(ctx).Model(&models.LandingDomain{}).
			Where("id = ?", id).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// OKLandingURLs returns the rotation pool of a project in insertion order.
func (s *Store) OKLandingURLs(ctx context.Context, projectID uint) ([]string, error) {
	var urls []string
	err := s.db.WithContext(ctx).Model(&models.LandingDomain{}).
		Where("project_id = ? AND status = ?", projectID, models.LandingStatusOK).
		Order("id").
		Pluck("url", &urls).Error
	return urls, err
}

// --- traffic ---

func (s *Store) InsertTrafficStats(ctx context.Context, row *models.TrafficStats) error {
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *Store) ListTrafficStats(ctx context.Context, projectID uint) ([]models.TrafficStats, error) {
	var rows []models.TrafficStats
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("id").Find(&rows).Error
	return rows, err
}
