package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Account struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	EmailAddress string       `gorm:"column:email_address;not null" json:"email_address"`
	DisabledAt   *time.Time   `gorm:"column:disabled_at" json:"disabled_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

func (Account) TableName() string { return "accounts" }

// Available reports whether the account can take part in a consultation.
func (a Account) Available() bool {
	return a.DisabledAt == nil
}

type ConsultantProfile struct {
	AccountID       snowflake.ID `gorm:"column:account_id;primaryKey" json:"account_id"`
	FeePerHourInYen int64        `gorm:"column:fee_per_hour_in_yen;not null" json:"fee_per_hour_in_yen"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (ConsultantProfile) TableName() string { return "consultant_profiles" }
