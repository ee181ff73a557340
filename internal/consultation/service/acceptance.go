package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	accountdomain "github.com/smallbiznis/consultly/internal/account/domain"
	"github.com/smallbiznis/consultly/internal/consultation/domain"
	"github.com/smallbiznis/consultly/internal/notification"
	obslogger "github.com/smallbiznis/consultly/internal/observability/logger"
	"github.com/smallbiznis/consultly/internal/observability/tracing"
	"github.com/smallbiznis/consultly/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	consultantMeetingConstraint = "uq_consultations_consultant_meeting"
	userMeetingConstraint       = "uq_consultations_user_meeting"
)

// AcceptConsultationRequest turns a pending request into a consultation, its
// settlement and two empty ratings. Preconditions are checked against the
// pool first. The unit of work then locks the request and both participants
// and checks availability again before applying the transition.
func (s *Service) AcceptConsultationRequest(ctx context.Context, req domain.AcceptRequest) (domain.AcceptResponse, error) {
	ctx, span := tracer.Start(ctx, "consultation.accept")
	span.SetAttributes(tracing.SafeAttributes(
		attribute.Int64("consultation_req_id", req.ConsultationReqID),
		attribute.Int("picked_candidate", req.PickedCandidate),
	)...)

	resp, err := s.accept(ctx, req)
	s.metrics.RecordAcceptance(ctx, outcome(err))
	tracing.EndSpan(span, err)
	return resp, err
}

func (s *Service) accept(ctx context.Context, req domain.AcceptRequest) (domain.AcceptResponse, error) {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.Int64("consultation_req_id", req.ConsultationReqID),
		zap.Int64("consultant_id", req.ConsultantID.Int64()),
		zap.Int("picked_candidate", req.PickedCandidate),
	)

	if req.PickedCandidate < 1 || req.PickedCandidate > 3 {
		return domain.AcceptResponse{}, domain.ErrInvalidCandidate
	}
	if !req.ConsultantConfirmed {
		return domain.AcceptResponse{}, domain.ErrNotConfirmed
	}
	if req.ConsultationReqID <= 0 {
		return domain.AcceptResponse{}, domain.ErrNonPositiveConsultationReqID
	}
	reqID := snowflake.ID(req.ConsultationReqID)

	pending, err := s.repo.FindRequest(ctx, s.db, reqID)
	if err != nil {
		return domain.AcceptResponse{}, s.unexpected(log, "consultation.accept.find_request_failed", err)
	}
	if pending == nil || pending.ConsultantID != req.ConsultantID {
		return domain.AcceptResponse{}, domain.ErrConsultationReqNotFound
	}

	meetingAt, _ := pending.Candidate(req.PickedCandidate)
	now := s.clock.Now()
	if meetingAt.Before(now.Add(s.rules.MinLeadTimeBeforeAcceptance)) {
		return domain.AcceptResponse{}, domain.ErrConsultationReqNotFound
	}

	if _, err := s.accounts.GetAvailable(ctx, pending.UserAccountID); err != nil {
		if errors.Is(err, accountdomain.ErrNotFound) || errors.Is(err, accountdomain.ErrUnavailable) {
			return domain.AcceptResponse{}, domain.ErrCounterpartUnavailable
		}
		return domain.AcceptResponse{}, s.unexpected(log, "consultation.accept.find_user_failed", err)
	}

	if err := s.checkAvailability(ctx, s.db, pending, meetingAt); err != nil {
		if isRejection(err) {
			return domain.AcceptResponse{}, err
		}
		return domain.AcceptResponse{}, s.unexpected(log, "consultation.accept.availability_failed", err)
	}

	consultation, err := s.applyAcceptance(ctx, reqID, meetingAt, now)
	if err != nil {
		if isRejection(err) {
			return domain.AcceptResponse{}, err
		}
		return domain.AcceptResponse{}, s.unexpected(log, "consultation.accept.transaction_failed", err)
	}

	log.Info("consultation.accepted",
		zap.Int64("consultation_id", consultation.ID.Int64()),
		zap.Time("meeting_at", consultation.MeetingAt),
	)

	notice := notification.ConsultationAccepted{
		ConsultationReqID: reqID,
		ConsultationID:    consultation.ID,
		UserAccountID:     consultation.UserAccountID,
		ConsultantID:      consultation.ConsultantID,
		MeetingAt:         consultation.MeetingAt,
		FeePerHourInYen:   pending.FeePerHourInYen,
	}
	if err := s.notifier.ConsultationAccepted(ctx, notice); err != nil {
		log.Warn("consultation.accept.notify_failed", zap.Error(err))
	}

	return domain.AcceptResponse{
		ConsultationID: consultation.ID,
		MeetingAt:      consultation.MeetingAt,
	}, nil
}

// checkAvailability rejects a meeting time either party is already booked at
// in any role, or that falls inside a maintenance window.
func (s *Service) checkAvailability(ctx context.Context, conn *gorm.DB, pending *domain.ConsultationRequest, meetingAt time.Time) error {
	busy, err := s.repo.HasConsultationAt(ctx, conn, pending.ConsultantID, meetingAt)
	if err != nil {
		return err
	}
	if busy {
		return domain.ErrConsultantTimeConflict
	}

	busy, err = s.repo.HasConsultationAt(ctx, conn, pending.UserAccountID, meetingAt)
	if err != nil {
		return err
	}
	if busy {
		return domain.ErrUserTimeConflict
	}

	window, err := s.repo.FindMaintenanceCovering(ctx, conn, meetingAt)
	if err != nil {
		return err
	}
	if window != nil {
		return domain.ErrMeetingOverlapsMaintenance
	}
	return nil
}

// applyAcceptance must not touch s.db while the unit of work is open.
func (s *Service) applyAcceptance(ctx context.Context, reqID snowflake.ID, meetingAt, now time.Time) (*domain.Consultation, error) {
	uow, err := db.Begin(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback() }()

	locked, err := s.repo.LockRequest(ctx, uow.DB(), reqID)
	if err != nil {
		return nil, err
	}
	if locked == nil {
		return nil, domain.ErrConsultationReqNotFound
	}

	if err := s.repo.LockParticipants(ctx, uow.DB(), locked.ConsultantID, locked.UserAccountID); err != nil {
		return nil, err
	}
	// Cross-role bookings are not covered by the per-role unique indexes.
	if err := s.checkAvailability(ctx, uow.DB(), locked, meetingAt); err != nil {
		return nil, err
	}

	consultation := &domain.Consultation{
		ID:            s.genID.Generate(),
		UserAccountID: locked.UserAccountID,
		ConsultantID:  locked.ConsultantID,
		MeetingAt:     meetingAt.UTC(),
		RoomName:      uuid.NewString(),
		CreatedAt:     now.UTC(),
	}
	if err := s.repo.InsertConsultation(ctx, uow.DB(), consultation); err != nil {
		switch {
		case db.IsConstraintErr(err, consultantMeetingConstraint, "consultant_id", "meeting_at"):
			return nil, domain.ErrConsultantTimeConflict
		case db.IsConstraintErr(err, userMeetingConstraint, "user_account_id", "meeting_at"):
			return nil, domain.ErrUserTimeConflict
		}
		return nil, err
	}

	if err := s.repo.InsertUserRating(ctx, uow.DB(), &domain.Rating{
		ID:             s.genID.Generate(),
		ConsultationID: consultation.ID,
	}); err != nil {
		return nil, err
	}
	if err := s.repo.InsertConsultantRating(ctx, uow.DB(), &domain.Rating{
		ID:             s.genID.Generate(),
		ConsultationID: consultation.ID,
	}); err != nil {
		return nil, err
	}

	if err := s.repo.InsertSettlement(ctx, uow.DB(), &domain.Settlement{
		ID:                          s.genID.Generate(),
		ConsultationID:              consultation.ID,
		ChargeID:                    locked.ChargeID,
		FeePerHourInYen:             locked.FeePerHourInYen,
		PlatformFeeRateInPercentage: locked.PlatformFeeRateInPercentage,
		CreditFacilitiesExpiredAt:   locked.CreditFacilitiesExpiredAt,
	}); err != nil {
		return nil, err
	}

	if err := s.repo.DeleteRequest(ctx, uow.DB(), reqID); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, err
	}
	return consultation, nil
}

func (s *Service) unexpected(log *zap.Logger, event string, err error) error {
	log.Error(event, zap.Error(err))
	return domain.Unexpected(err)
}

func isRejection(err error) bool {
	var rejection *domain.RejectionError
	return errors.As(err, &rejection)
}
