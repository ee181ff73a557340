package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// BusinessRules holds the constants the consultation lifecycle is computed
// against. It is read once at start and never reloaded.
type BusinessRules struct {
	Timezone string `mapstructure:"timezone"`
	Currency string `mapstructure:"currency"`

	MinLeadTimeBeforeAcceptance time.Duration `mapstructure:"minLeadTimeBeforeAcceptance"`
	MeetingLength               time.Duration `mapstructure:"meetingLength"`
	SweepGracePeriod            time.Duration `mapstructure:"sweepGracePeriod"`

	RequestMinLead time.Duration `mapstructure:"requestMinLead"`
	RequestMaxLead time.Duration `mapstructure:"requestMaxLead"`
	FirstStartHour int           `mapstructure:"firstStartHour"`
	LastStartHour  int           `mapstructure:"lastStartHour"`

	MaxAnnualRewardsInYen       int64 `mapstructure:"maxAnnualRewardsInYen"`
	PlatformFeeRateInPercentage int64 `mapstructure:"platformFeeRateInPercentage"`
	CreditFacilityExpiryDays    int   `mapstructure:"creditFacilityExpiryDays"`
	FiscalYearStartMonth        int   `mapstructure:"fiscalYearStartMonth"`

	loc *time.Location
}

func DefaultBusinessRules() BusinessRules {
	rules := BusinessRules{
		Timezone:                    "Asia/Tokyo",
		Currency:                    "jpy",
		MinLeadTimeBeforeAcceptance: 6 * time.Hour,
		MeetingLength:               60 * time.Minute,
		SweepGracePeriod:            14 * 24 * time.Hour,
		RequestMinLead:              6 * 24 * time.Hour,
		RequestMaxLead:              21 * 24 * time.Hour,
		FirstStartHour:              7,
		LastStartHour:               23,
		MaxAnnualRewardsInYen:       470_000,
		PlatformFeeRateInPercentage: 30,
		CreditFacilityExpiryDays:    50,
		FiscalYearStartMonth:        1,
	}
	rules.loc, _ = time.LoadLocation(rules.Timezone)
	return rules
}

// LoadBusinessRules reads business.yml (if present) and environment overrides
// prefixed with CONSULTLY_.
func LoadBusinessRules() (BusinessRules, error) {
	v := viper.New()

	v.SetConfigName("business")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/consultly")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CONSULTLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBusinessRules()
	v.SetDefault("business.timezone", defaults.Timezone)
	v.SetDefault("business.currency", defaults.Currency)
	v.SetDefault("business.minLeadTimeBeforeAcceptance", defaults.MinLeadTimeBeforeAcceptance)
	v.SetDefault("business.meetingLength", defaults.MeetingLength)
	v.SetDefault("business.sweepGracePeriod", defaults.SweepGracePeriod)
	v.SetDefault("business.requestMinLead", defaults.RequestMinLead)
	v.SetDefault("business.requestMaxLead", defaults.RequestMaxLead)
	v.SetDefault("business.firstStartHour", defaults.FirstStartHour)
	v.SetDefault("business.lastStartHour", defaults.LastStartHour)
	v.SetDefault("business.maxAnnualRewardsInYen", defaults.MaxAnnualRewardsInYen)
	v.SetDefault("business.platformFeeRateInPercentage", defaults.PlatformFeeRateInPercentage)
	v.SetDefault("business.creditFacilityExpiryDays", defaults.CreditFacilityExpiryDays)
	v.SetDefault("business.fiscalYearStartMonth", defaults.FiscalYearStartMonth)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return BusinessRules{}, err
		}
	}

	var wrapper struct {
		Business BusinessRules `mapstructure:"business"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return BusinessRules{}, err
	}

	rules := wrapper.Business
	if err := rules.init(); err != nil {
		return BusinessRules{}, err
	}
	return rules, nil
}

// Location is the business timezone. Falls back to UTC for a zero value.
func (r BusinessRules) Location() *time.Location {
	if r.loc == nil {
		return time.UTC
	}
	return r.loc
}

func (r *BusinessRules) init() error {
	if err := validateBusinessRules(*r); err != nil {
		return err
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return fmt.Errorf("business.timezone: %w", err)
	}
	r.loc = loc
	r.Currency = strings.ToLower(strings.TrimSpace(r.Currency))
	return nil
}

func validateBusinessRules(r BusinessRules) error {
	switch {
	case strings.TrimSpace(r.Timezone) == "":
		return errors.New("business.timezone is required")
	case strings.TrimSpace(r.Currency) == "":
		return errors.New("business.currency is required")
	case r.MinLeadTimeBeforeAcceptance <= 0:
		return errors.New("business.minLeadTimeBeforeAcceptance must be positive")
	case r.MeetingLength <= 0:
		return errors.New("business.meetingLength must be positive")
	case r.SweepGracePeriod <= 0:
		return errors.New("business.sweepGracePeriod must be positive")
	case r.RequestMinLead <= 0 || r.RequestMaxLead < r.RequestMinLead:
		return errors.New("business.requestMinLead/requestMaxLead are inconsistent")
	case r.FirstStartHour < 0 || r.LastStartHour > 23 || r.LastStartHour < r.FirstStartHour:
		return errors.New("business.firstStartHour/lastStartHour are inconsistent")
	case r.MaxAnnualRewardsInYen <= 0:
		return errors.New("business.maxAnnualRewardsInYen must be positive")
	case r.PlatformFeeRateInPercentage < 0 || r.PlatformFeeRateInPercentage > 100:
		return errors.New("business.platformFeeRateInPercentage must be within 0..100")
	case r.CreditFacilityExpiryDays <= 0:
		return errors.New("business.creditFacilityExpiryDays must be positive")
	case r.FiscalYearStartMonth < 1 || r.FiscalYearStartMonth > 12:
		return errors.New("business.fiscalYearStartMonth must be within 1..12")
	}
	return nil
}
