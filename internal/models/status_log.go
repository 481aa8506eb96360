package models

import "time"

type CheckType string

const (
	CheckTypeNS           CheckType = "ns_check"
	CheckTypeManualNS     CheckType = "manual_ns_check"
	CheckTypeHealth       CheckType = "health_check"
	CheckTypeManualHealth CheckType = "manual_health_check"
)

// DomainStatusLog is append-only; rows are never updated or deleted.
type DomainStatusLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DomainID  uint      `gorm:"not null;index" json:"domain_id"`
	CheckType CheckType `json:"check_type"`
	Status    string    `json:"status"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
