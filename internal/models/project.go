package models

import "time"

type Project struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null;uniqueIndex" json:"name"`
	Status    string    `gorm:"default:'on'" json:"status"`
	SafeMode  bool      `gorm:"default:true" json:"safe_mode"`
	CreatedAt time.Time `json:"created_at"`

	EntryDomains   []EntryDomain   `json:"entry_domains,omitempty"`
	LandingDomains []LandingDomain `json:"landing_domains,omitempty"`
}
