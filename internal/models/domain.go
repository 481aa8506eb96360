package models

import (
	"strings"
	"time"
)

// DomainStatus is the lifecycle status of an entry domain.
type DomainStatus string

const (
	DomainStatusOK      DomainStatus = "ok"
	DomainStatusPending DomainStatus = "pending"
	DomainStatusBanned  DomainStatus = "banned"
)

// NSStatus tracks nameserver cut-over of an entry domain.
type NSStatus string

const (
	// NSStatusUnset is only seen before the initializer has run.
	NSStatusUnset   NSStatus = ""
	NSStatusUnknown NSStatus = "unknown"
	NSStatusPending NSStatus = "pending"
	NSStatusActive  NSStatus = "active"
	NSStatusFailed  NSStatus = "failed"
)

func (s NSStatus) Valid() bool {
	switch s {
	case NSStatusUnknown, NSStatusPending, NSStatusActive, NSStatusFailed:
		return true
	case NSStatusUnset:
		return false
	}
	return false
}

// NoProject is written to the routing projection for unbound domains.
const NoProject = "0"

type EntryDomain struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	Domain       string       `gorm:"not null;uniqueIndex" json:"domain"`
	Provider     string       `gorm:"default:'cloudflare'" json:"provider"`
	ZoneID       string       `json:"zone_id"`
	Status       DomainStatus `gorm:"default:'ok'" json:"status"`
	CustomPath   *string      `gorm:"uniqueIndex" json:"custom_path"`
	NSServers    string       `gorm:"type:text" json:"ns_servers"` // comma separated, ordered
	NSStatus     NSStatus     `json:"ns_status"`
	LastNSCheck  *time.Time   `json:"last_ns_check"`
	NSCheckCount int          `gorm:"default:0" json:"ns_check_count"`
	ProjectID    *uint        `gorm:"index" json:"project_id"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ExpectedNameservers splits NSServers into normalized names.
func (d *EntryDomain) ExpectedNameservers() []string {
	return NormalizeNameservers(strings.Split(d.NSServers, ","))
}

// NormalizeNameservers trims, lowercases and strips the trailing dot of every
// name, dropping those left empty. Order is kept.
func NormalizeNameservers(names []string) []string {
	var out []string
	for _, n := range names {
		n = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(n)), ".")
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// InitialNSStatus is the status a domain starts in given its expectation.
func (d *EntryDomain) InitialNSStatus() NSStatus {
	if len(d.ExpectedNameservers()) == 0 {
		return NSStatusUnknown
	}
	return NSStatusPending
}
