package rewards

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// FeeRow is one fee/rate pair contributing to a projection.
type FeeRow struct {
	FeePerHourInYen             int64
	PlatformFeeRateInPercentage int64
}

type Repository interface {
	// ListPending returns settlements and stopped settlements of the
	// consultant whose credit facility is still valid at now.
	ListPending(ctx context.Context, db *gorm.DB, consultantID snowflake.ID, now time.Time) ([]FeeRow, error)
	// ListSettled returns receipts of the consultant settled in [from, to).
	ListSettled(ctx context.Context, db *gorm.DB, consultantID snowflake.ID, from, to time.Time) ([]FeeRow, error)
}

type repo struct{}

func NewRepository() Repository {
	return &repo{}
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, consultantID snowflake.ID, now time.Time) ([]FeeRow, error) {
	var rows []FeeRow
	err := db.WithContext(ctx).Raw(
		`SELECT s.fee_per_hour_in_yen, s.platform_fee_rate_in_percentage
		 FROM settlements s
		 JOIN consultations c ON c.id = s.consultation_id
		 WHERE c.consultant_id = ? AND s.credit_facilities_expired_at > ?
		 UNION ALL
		 SELECT ss.fee_per_hour_in_yen, ss.platform_fee_rate_in_percentage
		 FROM stopped_settlements ss
		 JOIN consultations c ON c.id = ss.consultation_id
		 WHERE c.consultant_id = ? AND ss.credit_facilities_expired_at > ?`,
		consultantID, now.UTC(),
		consultantID, now.UTC(),
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) ListSettled(ctx context.Context, db *gorm.DB, consultantID snowflake.ID, from, to time.Time) ([]FeeRow, error) {
	var rows []FeeRow
	err := db.WithContext(ctx).Raw(
		`SELECT r.fee_per_hour_in_yen, r.platform_fee_rate_in_percentage
		 FROM receipts r
		 JOIN consultations c ON c.id = r.consultation_id
		 WHERE c.consultant_id = ? AND r.settled_at >= ? AND r.settled_at < ?`,
		consultantID, from.UTC(), to.UTC(),
	).Scan(&rows).Error
	return rows, err
}
