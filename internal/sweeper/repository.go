package sweeper

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	consultationdomain "github.com/smallbiznis/consultly/internal/consultation/domain"
	"gorm.io/gorm"
)

// DueSettlement is a settlement joined with the meeting time that made it due.
type DueSettlement struct {
	ID                          snowflake.ID
	ConsultationID              snowflake.ID
	ChargeID                    string
	FeePerHourInYen             int64
	PlatformFeeRateInPercentage int64
	CreditFacilitiesExpiredAt   time.Time
	MeetingAt                   time.Time
}

type Repository interface {
	// ListDue returns settlements whose meeting is at or before dueAt,
	// oldest meeting first.
	ListDue(ctx context.Context, db *gorm.DB, dueAt time.Time, limit int) ([]DueSettlement, error)
	LockSettlement(ctx context.Context, db *gorm.DB, id snowflake.ID) (*consultationdomain.Settlement, error)
	InsertReceipt(ctx context.Context, db *gorm.DB, receipt *consultationdomain.Receipt) error
	DeleteSettlement(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

type repo struct{}

func NewRepository() Repository {
	return &repo{}
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, dueAt time.Time, limit int) ([]DueSettlement, error) {
	var rows []DueSettlement
	err := db.WithContext(ctx).Raw(
		`SELECT s.id, s.consultation_id, s.charge_id, s.fee_per_hour_in_yen,
		        s.platform_fee_rate_in_percentage, s.credit_facilities_expired_at, c.meeting_at
		 FROM settlements s
		 JOIN consultations c ON c.id = s.consultation_id
		 WHERE c.meeting_at <= ?
		 ORDER BY c.meeting_at ASC, s.id ASC
		 LIMIT ?`,
		dueAt.UTC(), limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) LockSettlement(ctx context.Context, db *gorm.DB, id snowflake.ID) (*consultationdomain.Settlement, error) {
	var settlement consultationdomain.Settlement
	err := db.WithContext(ctx).Raw(
		`SELECT id, consultation_id, charge_id, fee_per_hour_in_yen,
		        platform_fee_rate_in_percentage, credit_facilities_expired_at
		 FROM settlements WHERE id = ? FOR UPDATE`,
		id,
	).Scan(&settlement).Error
	if err != nil {
		return nil, err
	}
	if settlement.ID == 0 {
		return nil, nil
	}
	return &settlement, nil
}

func (r *repo) InsertReceipt(ctx context.Context, db *gorm.DB, receipt *consultationdomain.Receipt) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO receipts (id, consultation_id, charge_id, fee_per_hour_in_yen, platform_fee_rate_in_percentage, settled_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		receipt.ID,
		receipt.ConsultationID,
		receipt.ChargeID,
		receipt.FeePerHourInYen,
		receipt.PlatformFeeRateInPercentage,
		receipt.SettledAt.UTC(),
	).Error
}

func (r *repo) DeleteSettlement(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	result := db.WithContext(ctx).Exec(`DELETE FROM settlements WHERE id = ?`, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
