package models

import "time"

type StatKind string

const (
	StatKindHit StatKind = "hit"
	StatKindBot StatKind = "bot"
)

func ParseStatKind(s string) (StatKind, bool) {
	switch StatKind(s) {
	case StatKindHit, StatKindBot:
		return StatKind(s), true
	}
	return "", false
}

// TrafficStats rows are written once by the counter drain.
type TrafficStats struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"not null;index" json:"project_id"`
	Kind      StatKind  `gorm:"not null" json:"kind"`
	Count     int64     `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}
