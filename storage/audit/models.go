package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventRecord persists one committed event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"index"`
	Type       string    `gorm:"size:64;index"`
	AssetID    uint64    `gorm:"index"`
	Round      uint64
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// SettlementRecord captures a finalized or cancelled listing round.
type SettlementRecord struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	AssetID          uint64    `gorm:"uniqueIndex:idx_settlement_round"`
	Round            uint64    `gorm:"uniqueIndex:idx_settlement_round"`
	Outcome          string    `gorm:"size:16;index"`
	Caller           string    `gorm:"size:64"`
	Buyer            string    `gorm:"size:64"`
	PurchasePrice    string    `gorm:"size:80"`
	Earnest          string    `gorm:"size:80"`
	Loan             string    `gorm:"size:80"`
	InspectionPassed bool
	AssetRecipient   string `gorm:"size:64"`
	Hash             string `gorm:"size:64"`
	CreatedAt        time.Time
}
