// Package store persists consistency results through gorm.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketcore/internal/model"
	"marketcore/internal/model/enum"
	"marketcore/pkg/conn"
	"marketcore/pkg/exception"
)

const (
	saveBatchSize = 100
	defaultLimit  = 100
)

type resultRecord struct {
	ID            string `gorm:"primaryKey;size:36"`
	Symbol        string `gorm:"size:32;index:idx_results_symbol_ts,priority:1"`
	TimestampNano int64  `gorm:"index:idx_results_symbol_ts,priority:2"`
	CheckType     string `gorm:"size:32"`
	Severity      string `gorm:"size:16;index"`
	Message       string
	Exchanges     string
	Values        string
	CreatedAt     time.Time
}

func (resultRecord) TableName() string {
	return "consistency_results"
}

func toRecord(r model.ConsistencyResult) (resultRecord, error) {
	values, err := sonic.MarshalString(r.Values)
	if err != nil {
		return resultRecord{}, errors.Wrap(err, "marshal result values").With("id", r.ID)
	}
	names := make([]string, len(r.Exchanges))
	for i, ex := range r.Exchanges {
		names[i] = ex.String()
	}
	return resultRecord{
		ID:            r.ID,
		Symbol:        r.Symbol.String(),
		TimestampNano: r.TimestampNano,
		CheckType:     r.Check.String(),
		Severity:      r.Severity.String(),
		Message:       r.Message,
		Exchanges:     strings.Join(names, ","),
		Values:        values,
	}, nil
}

func (rec resultRecord) result() (model.ConsistencyResult, error) {
	sym, err := model.ParseSymbol(rec.Symbol)
	if err != nil {
		return model.ConsistencyResult{}, err
	}
	check, ok := enum.ParseCheckType(rec.CheckType)
	if !ok {
		return model.ConsistencyResult{}, errors.Wrap(exception.ErrParse, "check type").With("value", rec.CheckType)
	}
	severity, ok := enum.ParseSeverity(rec.Severity)
	if !ok {
		return model.ConsistencyResult{}, errors.Wrap(exception.ErrParse, "severity").With("value", rec.Severity)
	}

	var values map[string]float64
	if rec.Values != "" {
		if err := sonic.UnmarshalString(rec.Values, &values); err != nil {
			return model.ConsistencyResult{}, errors.Wrap(exception.ErrParse, err.Error()).With("id", rec.ID)
		}
	}

	var exchanges []model.Exchange
	if rec.Exchanges != "" {
		for name := range strings.SplitSeq(rec.Exchanges, ",") {
			exchanges = append(exchanges, model.NewExchange(name))
		}
	}

	return model.ConsistencyResult{
		ID:            rec.ID,
		Symbol:        sym,
		TimestampNano: rec.TimestampNano,
		Check:         check,
		Severity:      severity,
		Message:       rec.Message,
		Exchanges:     exchanges,
		Values:        values,
	}, nil
}

// Repository stores consistency results.
type Repository struct {
	client *conn.Client
	db     *gorm.DB
}

// Open connects with opt and migrates the schema.
func Open(opt conn.Option) (*Repository, error) {
	client, err := conn.New(opt)
	if err != nil {
		return nil, err
	}
	repo, err := NewRepository(client.DB())
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	repo.client = client
	return repo, nil
}

// NewRepository migrates the schema on db.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "gorm db")
	}
	if err := db.AutoMigrate(&resultRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate consistency results")
	}
	return &Repository{db: db}, nil
}

// SaveResults inserts results; results already stored are ignored.
func (r *Repository) SaveResults(ctx context.Context, results []model.ConsistencyResult) error {
	if len(results) == 0 {
		return nil
	}
	records := make([]resultRecord, 0, len(results))
	for _, res := range results {
		rec, err := toRecord(res)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(records, saveBatchSize).Error; err != nil {
		return errors.Wrap(err, "insert consistency results").With("count", len(records))
	}
	return nil
}

// Recent returns the newest results of symbol, newest first.
func (r *Repository) Recent(ctx context.Context, symbol model.Symbol, limit int) ([]model.ConsistencyResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	var records []resultRecord
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol.String()).
		Order("timestamp_nano DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "query consistency results").With("symbol", symbol.String())
	}

	out := make([]model.ConsistencyResult, 0, len(records))
	for _, rec := range records {
		res, err := rec.result()
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (r *Repository) Close() error {
	return r.client.Close()
}
