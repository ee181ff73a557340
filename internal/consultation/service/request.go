package service

import (
	"context"
	"errors"
	"time"

	accountdomain "github.com/smallbiznis/consultly/internal/account/domain"
	"github.com/smallbiznis/consultly/internal/consultation/domain"
	obslogger "github.com/smallbiznis/consultly/internal/observability/logger"
	"github.com/smallbiznis/consultly/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/consultly/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// RequestConsultation authorizes the fee on the user's card and records a
// pending request with three candidate times for the consultant to pick.
func (s *Service) RequestConsultation(ctx context.Context, req domain.RequestConsultationRequest) (domain.RequestConsultationResponse, error) {
	ctx, span := tracer.Start(ctx, "consultation.request")

	resp, err := s.request(ctx, req)
	s.metrics.RecordRequest(ctx, outcome(err))
	tracing.EndSpan(span, err)
	return resp, err
}

func (s *Service) request(ctx context.Context, req domain.RequestConsultationRequest) (domain.RequestConsultationResponse, error) {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.Int64("user_account_id", req.UserAccountID.Int64()),
		zap.Int64("consultant_id", req.ConsultantID.Int64()),
	)

	if req.UserAccountID == req.ConsultantID {
		return domain.RequestConsultationResponse{}, domain.ErrSameAccount
	}

	profile, err := s.accounts.GetConsultantProfile(ctx, req.ConsultantID)
	if err != nil {
		if errors.Is(err, accountdomain.ErrNotFound) || errors.Is(err, accountdomain.ErrInvalidID) {
			return domain.RequestConsultationResponse{}, domain.ErrConsultantNotFound
		}
		return domain.RequestConsultationResponse{}, s.unexpected(log, "consultation.request.find_profile_failed", err)
	}
	if _, err := s.accounts.GetAvailable(ctx, req.ConsultantID); err != nil {
		if errors.Is(err, accountdomain.ErrNotFound) || errors.Is(err, accountdomain.ErrUnavailable) {
			return domain.RequestConsultationResponse{}, domain.ErrCounterpartUnavailable
		}
		return domain.RequestConsultationResponse{}, s.unexpected(log, "consultation.request.find_consultant_failed", err)
	}
	if profile.FeePerHourInYen != req.FeePerHourInYen {
		return domain.RequestConsultationResponse{}, domain.ErrFeeMismatch
	}

	now := s.clock.Now()
	if err := s.validateCandidates(req.Candidates, now); err != nil {
		return domain.RequestConsultationResponse{}, err
	}

	decision, err := s.guard.Check(ctx, req.ConsultantID, profile.FeePerHourInYen)
	if err != nil {
		return domain.RequestConsultationResponse{}, s.unexpected(log, "consultation.request.rewards_check_failed", err)
	}
	if !decision.Allowed {
		return domain.RequestConsultationResponse{}, domain.ErrRewardCapExceeded
	}

	metadata := map[string]string{
		"consultant_id":              req.ConsultantID.String(),
		"first_candidate_date_time":  req.Candidates[0].UTC().Format(time.RFC3339),
		"second_candidate_date_time": req.Candidates[1].UTC().Format(time.RFC3339),
		"third_candidate_date_time":  req.Candidates[2].UTC().Format(time.RFC3339),
	}
	chargeID, err := s.gateway.Authorize(ctx, paymentdomain.AuthorizeRequest{
		AmountInYen: profile.FeePerHourInYen,
		Currency:    s.rules.Currency,
		CardToken:   req.CardToken,
		ExpiryDays:  s.rules.CreditFacilityExpiryDays,
		Metadata:    metadata,
	})
	if err != nil {
		s.metrics.RecordAuthorization(ctx, s.gateway.Provider(), "failed")
		return domain.RequestConsultationResponse{}, s.unexpected(log, "consultation.request.authorize_failed", err)
	}
	s.metrics.RecordAuthorization(ctx, s.gateway.Provider(), "authorized")

	stored := make(datatypes.JSONMap, len(metadata))
	for key, value := range metadata {
		stored[key] = value
	}
	pending := &domain.ConsultationRequest{
		ID:                          s.genID.Generate(),
		UserAccountID:               req.UserAccountID,
		ConsultantID:                req.ConsultantID,
		FeePerHourInYen:             profile.FeePerHourInYen,
		PlatformFeeRateInPercentage: s.rules.PlatformFeeRateInPercentage,
		FirstCandidateDateTime:      req.Candidates[0].UTC(),
		SecondCandidateDateTime:     req.Candidates[1].UTC(),
		ThirdCandidateDateTime:      req.Candidates[2].UTC(),
		LatestCandidateDateTime:     latest(req.Candidates).UTC(),
		ChargeID:                    chargeID,
		AuthorizationMetadata:       stored,
		CreditFacilitiesExpiredAt:   now.AddDate(0, 0, s.rules.CreditFacilityExpiryDays).UTC(),
		CreatedAt:                   now.UTC(),
	}
	if err := s.repo.InsertRequest(ctx, s.db, pending); err != nil {
		// The hold is released by the gateway when the facility expires.
		log.Error("consultation.request.orphaned_charge", zap.String("charge_id", chargeID), zap.Error(err))
		return domain.RequestConsultationResponse{}, domain.Unexpected(err)
	}

	log.Info("consultation.requested", zap.Int64("consultation_req_id", pending.ID.Int64()))
	return domain.RequestConsultationResponse{ConsultationReqID: pending.ID}, nil
}

func (s *Service) validateCandidates(candidates [3]time.Time, now time.Time) error {
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[i].Equal(candidates[j]) {
				return domain.ErrDuplicateCandidates
			}
		}
	}

	earliest := now.Add(s.rules.RequestMinLead)
	furthest := now.Add(s.rules.RequestMaxLead)
	loc := s.rules.Location()
	for _, candidate := range candidates {
		if candidate.IsZero() || candidate.Before(earliest) || candidate.After(furthest) {
			return domain.ErrCandidateOutOfRange
		}
		local := candidate.In(loc)
		if local.Minute() != 0 || local.Second() != 0 || local.Nanosecond() != 0 {
			return domain.ErrCandidateOutOfRange
		}
		if local.Hour() < s.rules.FirstStartHour || local.Hour() > s.rules.LastStartHour {
			return domain.ErrCandidateOutOfRange
		}
	}
	return nil
}

func latest(candidates [3]time.Time) time.Time {
	out := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.After(out) {
			out = candidate
		}
	}
	return out
}
