package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"locatefeesvc/services/locatefeesvc/cache"
)

// ErrNotFound is what every read method's loader returns when the underlying
// row is absent (or, for GetBroker, present but inactive); the read methods
// report it to their callers as found == false with a nil error.
var ErrNotFound = errors.New("repo: not found")

// Repository is the C4 data-access surface of spec §4.4, read-through cached
// via C3. All reads are parameterized through GORM's query builder — no
// string interpolation into queries.
type Repository struct {
	db    *gorm.DB
	cache *cache.Cache
}

// New constructs a Repository backed by db and read-through cached via c.
func New(db *gorm.DB, c *cache.Cache) *Repository {
	return &Repository{db: db, cache: c}
}

// GetStock returns the stock row for ticker, read-through cached as the full
// row under a "stock:"-prefixed key in the min_rate namespace so a Stock
// lookup never bypasses the cache layer.
func (r *Repository) GetStock(ctx context.Context, ticker string) (Stock, bool, error) {
	key := cache.Key(ticker)
	v, _, err := cache.GetOrLoad(ctx, r.cache, cache.NamespaceMinRate, "stock:"+key, func(ctx context.Context) (Stock, error) {
		var s Stock
		err := r.db.WithContext(ctx).Where("ticker = ?", ticker).Take(&s).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Stock{}, ErrNotFound
		}
		if err != nil {
			return Stock{}, err
		}
		return s, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Stock{}, false, nil
		}
		return Stock{}, false, err
	}
	return v, true, nil
}

// GetBroker returns the active broker row for clientID; inactive brokers
// behave as NotFound per spec §4.4.
func (r *Repository) GetBroker(ctx context.Context, clientID string) (Broker, bool, error) {
	key := cache.Key(clientID)
	v, _, err := cache.GetOrLoad(ctx, r.cache, cache.NamespaceBrokerConfig, key, func(ctx context.Context) (Broker, error) {
		var b Broker
		err := r.db.WithContext(ctx).Where("client_id = ? AND active = ?", clientID, true).Take(&b).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Broker{}, ErrNotFound
		}
		if err != nil {
			return Broker{}, err
		}
		return b, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Broker{}, false, nil
		}
		return Broker{}, false, err
	}
	return v, true, nil
}

// LatestVolatility returns the most recent VolatilitySample for ticker.
func (r *Repository) LatestVolatility(ctx context.Context, ticker string) (VolatilitySample, bool, error) {
	key := cache.Key(ticker)
	v, _, err := cache.GetOrLoad(ctx, r.cache, cache.NamespaceVolatility, "db:"+key, func(ctx context.Context) (VolatilitySample, error) {
		var sample VolatilitySample
		err := r.db.WithContext(ctx).
			Where("ticker = ?", ticker).
			Order("timestamp DESC").
			Take(&sample).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return VolatilitySample{}, ErrNotFound
		}
		if err != nil {
			return VolatilitySample{}, err
		}
		return sample, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return VolatilitySample{}, false, nil
		}
		return VolatilitySample{}, false, err
	}
	return v, true, nil
}

// GetAPIKey returns the ApiKey row for keyHash (the SHA-256 digest of the
// caller's raw key — plaintext keys are never looked up or cached).
func (r *Repository) GetAPIKey(ctx context.Context, keyHash string) (ApiKey, bool, error) {
	v, _, err := cache.GetOrLoad(ctx, r.cache, cache.NamespaceBrokerConfig, "apikey:"+keyHash, func(ctx context.Context) (ApiKey, error) {
		var k ApiKey
		err := r.db.WithContext(ctx).Where("key_hash = ?", keyHash).Take(&k).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ApiKey{}, ErrNotFound
		}
		if err != nil {
			return ApiKey{}, err
		}
		return k, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ApiKey{}, false, nil
		}
		return ApiKey{}, false, err
	}
	return v, true, nil
}

// AuditRecordInput is the write-side shape handed to AppendAudit by the audit
// worker pool (see package audit) — never called synchronously from a
// handler.
type AuditRecordInput struct {
	AuditID        uuid.UUID
	Timestamp      time.Time
	ClientID       string
	Ticker         string
	PositionValue  string
	LoanDays       int
	BorrowRateUsed string
	TotalFee       string
	DataSources    map[string]string
	Breakdown      map[string]string
}

// AppendAudit inserts rec, deduping on audit_id via an upsert-as-no-op: a
// second append with the same audit_id (at-least-once redelivery) leaves the
// existing row untouched.
func (r *Repository) AppendAudit(ctx context.Context, rec AuditRecordInput) error {
	sources, err := json.Marshal(rec.DataSources)
	if err != nil {
		return err
	}
	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return err
	}
	row := AuditRecord{
		AuditID:        rec.AuditID,
		Timestamp:      rec.Timestamp,
		ClientID:       rec.ClientID,
		Ticker:         rec.Ticker,
		PositionValue:  rec.PositionValue,
		LoanDays:       rec.LoanDays,
		BorrowRateUsed: rec.BorrowRateUsed,
		TotalFee:       rec.TotalFee,
		DataSources:    string(sources),
		Breakdown:      string(breakdown),
	}
	return r.db.WithContext(ctx).
		Where("audit_id = ?", rec.AuditID).
		FirstOrCreate(&row).Error
}

// Ping verifies the underlying database connection is reachable, for the
// health endpoint of spec §6.1.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
