package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/consultly/internal/consultation/domain"
	"gorm.io/gorm"
)

const requestColumns = `id, user_account_id, consultant_id, fee_per_hour_in_yen, platform_fee_rate_in_percentage,
	first_candidate_date_time, second_candidate_date_time, third_candidate_date_time, latest_candidate_date_time,
	charge_id, authorization_metadata, credit_facilities_expired_at, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertRequest(ctx context.Context, db *gorm.DB, req *domain.ConsultationRequest) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO consultation_requests (`+requestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID,
		req.UserAccountID,
		req.ConsultantID,
		req.FeePerHourInYen,
		req.PlatformFeeRateInPercentage,
		req.FirstCandidateDateTime.UTC(),
		req.SecondCandidateDateTime.UTC(),
		req.ThirdCandidateDateTime.UTC(),
		req.LatestCandidateDateTime.UTC(),
		req.ChargeID,
		req.AuthorizationMetadata,
		req.CreditFacilitiesExpiredAt.UTC(),
		req.CreatedAt.UTC(),
	).Error
}

func (r *repo) FindRequest(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ConsultationRequest, error) {
	return r.findRequest(ctx, db, `SELECT `+requestColumns+` FROM consultation_requests WHERE id = ?`, id)
}

func (r *repo) LockRequest(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ConsultationRequest, error) {
	return r.findRequest(ctx, db, `SELECT `+requestColumns+` FROM consultation_requests WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) findRequest(ctx context.Context, db *gorm.DB, query string, id snowflake.ID) (*domain.ConsultationRequest, error) {
	var req domain.ConsultationRequest
	if err := db.WithContext(ctx).Raw(query, id).Scan(&req).Error; err != nil {
		return nil, err
	}
	if req.ID == 0 {
		return nil, nil
	}
	return &req, nil
}

func (r *repo) DeleteRequest(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	result := db.WithContext(ctx).Exec(`DELETE FROM consultation_requests WHERE id = ?`, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repo) LockParticipants(ctx context.Context, db *gorm.DB, accountIDs ...snowflake.ID) error {
	if len(accountIDs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(accountIDs))
	for _, id := range accountIDs {
		ids = append(ids, id.Int64())
	}
	var locked []int64
	return db.WithContext(ctx).Raw(
		`SELECT id FROM accounts WHERE id IN ? ORDER BY id FOR UPDATE`, ids,
	).Scan(&locked).Error
}

func (r *repo) HasConsultationAt(ctx context.Context, db *gorm.DB, accountID snowflake.ID, meetingAt time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM consultations
		 WHERE (consultant_id = ? OR user_account_id = ?) AND meeting_at = ?`,
		accountID, accountID, meetingAt.UTC(),
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) FindMaintenanceCovering(ctx context.Context, db *gorm.DB, at time.Time) (*domain.MaintenanceWindow, error) {
	var window domain.MaintenanceWindow
	err := db.WithContext(ctx).Raw(
		`SELECT id, maintenance_start_at, maintenance_end_at, description
		 FROM maintenances
		 WHERE maintenance_start_at <= ? AND maintenance_end_at >= ?
		 ORDER BY maintenance_start_at
		 LIMIT 1`,
		at.UTC(), at.UTC(),
	).Scan(&window).Error
	if err != nil {
		return nil, err
	}
	if window.ID == 0 {
		return nil, nil
	}
	return &window, nil
}

func (r *repo) InsertConsultation(ctx context.Context, db *gorm.DB, consultation *domain.Consultation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO consultations (id, user_account_id, consultant_id, meeting_at, room_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		consultation.ID,
		consultation.UserAccountID,
		consultation.ConsultantID,
		consultation.MeetingAt.UTC(),
		consultation.RoomName,
		consultation.CreatedAt.UTC(),
	).Error
}

func (r *repo) InsertUserRating(ctx context.Context, db *gorm.DB, rating *domain.Rating) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO user_ratings (id, consultation_id) VALUES (?, ?)`,
		rating.ID,
		rating.ConsultationID,
	).Error
}

func (r *repo) InsertConsultantRating(ctx context.Context, db *gorm.DB, rating *domain.Rating) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO consultant_ratings (id, consultation_id) VALUES (?, ?)`,
		rating.ID,
		rating.ConsultationID,
	).Error
}

func (r *repo) InsertSettlement(ctx context.Context, db *gorm.DB, settlement *domain.Settlement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO settlements (id, consultation_id, charge_id, fee_per_hour_in_yen, platform_fee_rate_in_percentage, credit_facilities_expired_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		settlement.ID,
		settlement.ConsultationID,
		settlement.ChargeID,
		settlement.FeePerHourInYen,
		settlement.PlatformFeeRateInPercentage,
		settlement.CreditFacilitiesExpiredAt.UTC(),
	).Error
}
