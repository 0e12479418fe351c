// Package repo is the data-access layer of spec §4.4: a thin repository over
// the entities of spec §3, read-through cached via package cache, with
// AppendAudit as the only write path reachable from the hot request loop.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BorrowStatus enumerates Stock.borrow_status.
type BorrowStatus string

const (
	BorrowStatusEasy   BorrowStatus = "EASY"
	BorrowStatusMedium BorrowStatus = "MEDIUM"
	BorrowStatusHard   BorrowStatus = "HARD"
)

// TransactionFeeType enumerates Broker.transaction_fee_type.
type TransactionFeeType string

const (
	TransactionFeeFlat       TransactionFeeType = "FLAT"
	TransactionFeePercentage TransactionFeeType = "PERCENTAGE"
)

// Stock is read-only to the core; upserted by an out-of-scope ingestion job.
type Stock struct {
	Ticker        string       `gorm:"primaryKey;size:10"`
	BorrowStatus  BorrowStatus `gorm:"size:16"`
	LenderAPIID   string       `gorm:"size:128"`
	MinBorrowRate string       `gorm:"size:32"` // decimal stored as text; parsed via money.NewFromString
	LastUpdated   time.Time
}

// Broker is managed out of band; core reads only.
type Broker struct {
	ClientID           string             `gorm:"primaryKey;size:50"`
	MarkupPercentage   string             `gorm:"size:32"`
	TransactionFeeType TransactionFeeType `gorm:"size:16"`
	TransactionAmount  string             `gorm:"size:32"`
	Active             bool               `gorm:"index"`
}

// VolatilitySample is an append-only time series; core reads the latest.
type VolatilitySample struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	Ticker          string `gorm:"size:10;index:idx_vol_ticker_ts,priority:1"`
	VolIndex        string `gorm:"size:32"`
	EventRiskFactor int    `gorm:"check:event_risk_factor BETWEEN 0 AND 10"`
	Timestamp       time.Time `gorm:"index:idx_vol_ticker_ts,priority:2,sort:desc"`
}

// ApiKey is read on every authenticated request.
type ApiKey struct {
	KeyHash   string `gorm:"primaryKey;size:64"`
	ClientID  string `gorm:"size:50;index"`
	RateLimit int
	ExpiresAt *time.Time
}

// AuditRecord is append-only with 7-year retention; see audit package for the
// asynchronous pipeline that writes these.
type AuditRecord struct {
	AuditID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Timestamp      time.Time `gorm:"index"`
	ClientID       string    `gorm:"size:50;index"`
	Ticker         string    `gorm:"size:10;index"`
	PositionValue  string    `gorm:"size:32"`
	LoanDays       int
	BorrowRateUsed string `gorm:"size:32"`
	TotalFee       string `gorm:"size:32"`
	DataSources    string `gorm:"type:jsonb"` // JSON-encoded map[string]string
	Breakdown      string `gorm:"type:jsonb"` // JSON-encoded map[string]string
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Stock{},
		&Broker{},
		&VolatilitySample{},
		&ApiKey{},
		&AuditRecord{},
	)
}
