package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ConsultationRequest struct {
	ID                          snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserAccountID               snowflake.ID      `gorm:"not null" json:"user_account_id"`
	ConsultantID                snowflake.ID      `gorm:"not null;index" json:"consultant_id"`
	FeePerHourInYen             int64             `gorm:"not null" json:"fee_per_hour_in_yen"`
	PlatformFeeRateInPercentage int64             `gorm:"not null" json:"platform_fee_rate_in_percentage"`
	FirstCandidateDateTime      time.Time         `gorm:"not null" json:"first_candidate_date_time"`
	SecondCandidateDateTime     time.Time         `gorm:"not null" json:"second_candidate_date_time"`
	ThirdCandidateDateTime      time.Time         `gorm:"not null" json:"third_candidate_date_time"`
	LatestCandidateDateTime     time.Time         `gorm:"not null" json:"latest_candidate_date_time"`
	ChargeID                    string            `gorm:"not null;uniqueIndex" json:"charge_id"`
	AuthorizationMetadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"authorization_metadata,omitempty"`
	CreditFacilitiesExpiredAt   time.Time         `gorm:"not null" json:"credit_facilities_expired_at"`
	CreatedAt                   time.Time         `gorm:"not null" json:"created_at"`
}

func (ConsultationRequest) TableName() string { return "consultation_requests" }

// Candidate returns the 1-indexed candidate time.
func (r ConsultationRequest) Candidate(index int) (time.Time, bool) {
	switch index {
	case 1:
		return r.FirstCandidateDateTime, true
	case 2:
		return r.SecondCandidateDateTime, true
	case 3:
		return r.ThirdCandidateDateTime, true
	default:
		return time.Time{}, false
	}
}

type Consultation struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	UserAccountID        snowflake.ID `gorm:"not null" json:"user_account_id"`
	ConsultantID         snowflake.ID `gorm:"not null" json:"consultant_id"`
	MeetingAt            time.Time    `gorm:"not null" json:"meeting_at"`
	RoomName             string       `gorm:"not null;uniqueIndex" json:"room_name"`
	UserAccountEnteredAt *time.Time   `json:"user_account_entered_at,omitempty"`
	ConsultantEnteredAt  *time.Time   `json:"consultant_entered_at,omitempty"`
	CreatedAt            time.Time    `gorm:"not null" json:"created_at"`
}

func (Consultation) TableName() string { return "consultations" }

// Rating is a placeholder until the party rates the other; Value and RatedAt
// stay nil until then.
type Rating struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	ConsultationID snowflake.ID `gorm:"not null;uniqueIndex" json:"consultation_id"`
	Value          *int16       `json:"value,omitempty"`
	RatedAt        *time.Time   `json:"rated_at,omitempty"`
}

type Settlement struct {
	ID                          snowflake.ID `gorm:"primaryKey" json:"id"`
	ConsultationID              snowflake.ID `gorm:"not null;uniqueIndex" json:"consultation_id"`
	ChargeID                    string       `gorm:"not null;uniqueIndex" json:"charge_id"`
	FeePerHourInYen             int64        `gorm:"not null" json:"fee_per_hour_in_yen"`
	PlatformFeeRateInPercentage int64        `gorm:"not null" json:"platform_fee_rate_in_percentage"`
	CreditFacilitiesExpiredAt   time.Time    `gorm:"not null" json:"credit_facilities_expired_at"`
}

func (Settlement) TableName() string { return "settlements" }

type Receipt struct {
	ID                          snowflake.ID `gorm:"primaryKey" json:"id"`
	ConsultationID              snowflake.ID `gorm:"not null;uniqueIndex" json:"consultation_id"`
	ChargeID                    string       `gorm:"not null;uniqueIndex" json:"charge_id"`
	FeePerHourInYen             int64        `gorm:"not null" json:"fee_per_hour_in_yen"`
	PlatformFeeRateInPercentage int64        `gorm:"not null" json:"platform_fee_rate_in_percentage"`
	SettledAt                   time.Time    `gorm:"not null" json:"settled_at"`
}

func (Receipt) TableName() string { return "receipts" }

type MaintenanceWindow struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	MaintenanceStartAt time.Time    `gorm:"not null" json:"maintenance_start_at"`
	MaintenanceEndAt   time.Time    `gorm:"not null" json:"maintenance_end_at"`
	Description        string       `json:"description"`
}

func (MaintenanceWindow) TableName() string { return "maintenances" }

// Covers reports whether at falls inside the window, both ends included.
func (m MaintenanceWindow) Covers(at time.Time) bool {
	return !at.Before(m.MaintenanceStartAt) && !at.After(m.MaintenanceEndAt)
}
