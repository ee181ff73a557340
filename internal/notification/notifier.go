// Package notification renders and sends the mails of the consultation
// lifecycle: acceptance notices to both parties and the sweep report to the
// operator.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/consultly/internal/account/domain"
	"github.com/smallbiznis/consultly/internal/config"
	"github.com/smallbiznis/consultly/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Email    email.Provider
	Accounts accountdomain.Service
	Rules    config.BusinessRules
	Log      *zap.Logger
}

type Notifier struct {
	email    email.Provider
	accounts accountdomain.Service
	loc      *time.Location
	log      *zap.Logger
}

func New(p Params) *Notifier {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		email:    p.Email,
		accounts: p.Accounts,
		loc:      p.Rules.Location(),
		log:      log.Named("notification"),
	}
}

type ConsultationAccepted struct {
	ConsultationReqID snowflake.ID
	ConsultationID    snowflake.ID
	UserAccountID     snowflake.ID
	ConsultantID      snowflake.ID
	MeetingAt         time.Time
	FeePerHourInYen   int64
}

// ConsultationAccepted mails both parties. Both sends are attempted; the
// returned error joins every failure.
func (n *Notifier) ConsultationAccepted(ctx context.Context, notice ConsultationAccepted) error {
	data := map[string]any{
		"ConsultationReqID": notice.ConsultationReqID.String(),
		"ConsultationID":    notice.ConsultationID.String(),
		"UserAccountID":     notice.UserAccountID.String(),
		"ConsultantID":      notice.ConsultantID.String(),
		"MeetingAt":         notice.MeetingAt.In(n.loc).Format("2006-01-02 15:04 MST"),
		"FeePerHourInYen":   notice.FeePerHourInYen,
	}

	var errs []error
	if err := n.sendTo(ctx, notice.UserAccountID, email.TemplateConsultationAcceptedUser, data); err != nil {
		errs = append(errs, fmt.Errorf("user: %w", err))
	}
	if err := n.sendTo(ctx, notice.ConsultantID, email.TemplateConsultationAcceptedConsultant, data); err != nil {
		errs = append(errs, fmt.Errorf("consultant: %w", err))
	}
	return errors.Join(errs...)
}

func (n *Notifier) sendTo(ctx context.Context, accountID snowflake.ID, templateName string, data map[string]any) error {
	address, err := n.accounts.EmailAddress(ctx, accountID)
	if err != nil {
		return err
	}
	return n.email.SendTemplate(ctx, []string{address}, templateName, data)
}

type SweepFailure struct {
	SettlementID              int64     `json:"settlement_id"`
	ConsultationID            int64     `json:"consultation_id"`
	ChargeID                  string    `json:"charge_id"`
	FeePerHourInYen           int64     `json:"fee_per_hour_in_yen"`
	PlatformFeeRate           int64     `json:"platform_fee_rate_in_percentage"`
	CreditFacilitiesExpiredAt time.Time `json:"credit_facilities_expired_at"`
	Error                     string    `json:"error"`
}

type SweepReport struct {
	Tool      string         `json:"tool"`
	RunID     string         `json:"run_id"`
	Processed int            `json:"processed"`
	Failed    int            `json:"failed"`
	Failures  []SweepFailure `json:"failures"`
}

// SendSweepReport mails the operator a summary of a run with failures.
func (n *Notifier) SendSweepReport(ctx context.Context, to string, report SweepReport) error {
	if to == "" {
		return errors.New("operator address is required")
	}
	return n.email.SendTemplate(ctx, []string{to}, email.TemplateSweepReport, report)
}
