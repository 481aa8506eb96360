package models

import "time"

// LandingStatus is binary: there is no pending state for landing pages.
type LandingStatus string

const (
	LandingStatusOK     LandingStatus = "ok"
	LandingStatusBanned LandingStatus = "banned"
)

type LandingDomain struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	URL       string        `gorm:"not null" json:"url"`
	Status    LandingStatus `gorm:"default:'ok'" json:"status"`
	ProjectID uint          `gorm:"not null;index" json:"project_id"`
	CreatedAt time.Time     `json:"created_at"`
}
