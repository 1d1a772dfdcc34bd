// internal/storage/models/metrics.go
package models

import "time"

// TradeMetrics is one additive aggregate row, keyed by "global" or "user:<id>".
type TradeMetrics struct {
	Key              string    `gorm:"primaryKey;type:varchar(128)"`
	TotalTrades      int64     `gorm:"not null;default:0"`
	ProfitableTrades int64     `gorm:"not null;default:0"`
	TotalProfit      float64   `gorm:"type:double precision;not null;default:0"`
	TotalHoldMinutes float64   `gorm:"type:double precision;not null;default:0"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// LiveMetrics holds the single live row (ID 1).
type LiveMetrics struct {
	ID              uint      `gorm:"primaryKey;autoIncrement:false"`
	ActivePositions int       `gorm:"not null;default:0"`
	Tokens          string    `gorm:"type:text;not null;default:'[]'"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// MetricsSnapshot is a periodic copy of the global aggregate.
type MetricsSnapshot struct {
	BaseModel
	TakenAt          time.Time `gorm:"index;not null"`
	TotalTrades      int64     `gorm:"not null;default:0"`
	ProfitableTrades int64     `gorm:"not null;default:0"`
	TotalProfit      float64   `gorm:"type:double precision;not null;default:0"`
	TotalHoldMinutes float64   `gorm:"type:double precision;not null;default:0"`
}
