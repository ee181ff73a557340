package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/consultly/internal/consultation/domain"
	"github.com/smallbiznis/consultly/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestAcceptPicksCandidateAndCreatesSettlement(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t)

	resp, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
	require.NoError(t, err)
	assert.True(t, resp.MeetingAt.Equal(t2))
	assert.NotZero(t, resp.ConsultationID)

	var consultation domain.Consultation
	require.NoError(t, f.conn.Raw(`SELECT * FROM consultations WHERE id = ?`, resp.ConsultationID).Scan(&consultation).Error)
	assert.True(t, consultation.MeetingAt.Equal(t2))
	assert.Equal(t, consultantID, consultation.ConsultantID)
	assert.Equal(t, userID, consultation.UserAccountID)
	assert.Len(t, consultation.RoomName, 36)

	var settlement domain.Settlement
	require.NoError(t, f.conn.Raw(`SELECT * FROM settlements WHERE consultation_id = ?`, resp.ConsultationID).Scan(&settlement).Error)
	assert.Equal(t, "ch_10", settlement.ChargeID)
	assert.Equal(t, int64(3000), settlement.FeePerHourInYen)
	assert.Equal(t, int64(30), settlement.PlatformFeeRateInPercentage)
	assert.True(t, settlement.CreditFacilitiesExpiredAt.Equal(baseNow.AddDate(0, 0, 50)))

	assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "consultation_requests"))
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "user_ratings"))
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "consultant_ratings"))

	var unrated int64
	require.NoError(t, f.conn.Raw(`SELECT COUNT(1) FROM user_ratings WHERE value IS NULL AND rated_at IS NULL`).Scan(&unrated).Error)
	assert.Equal(t, int64(1), unrated)

	require.Len(t, f.mail.sent, 2)
	assert.Equal(t, []string{"user@example.com"}, f.mail.sent[0].to)
	assert.Contains(t, f.mail.sent[0].body, "Meeting time: 2024-06-08 11:00 JST")
	assert.Equal(t, []string{"consultant@example.com"}, f.mail.sent[1].to)
}

func TestAcceptRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.AcceptRequest)
		prepare func(*testing.T, *fixture)
		want    error
	}{
		{name: "candidate zero", mutate: func(r *domain.AcceptRequest) { r.PickedCandidate = 0 }, want: domain.ErrInvalidCandidate},
		{name: "candidate four", mutate: func(r *domain.AcceptRequest) { r.PickedCandidate = 4 }, want: domain.ErrInvalidCandidate},
		{name: "not confirmed", mutate: func(r *domain.AcceptRequest) { r.ConsultantConfirmed = false }, want: domain.ErrNotConfirmed},
		{name: "zero id", mutate: func(r *domain.AcceptRequest) { r.ConsultationReqID = 0 }, want: domain.ErrNonPositiveConsultationReqID},
		{name: "negative id", mutate: func(r *domain.AcceptRequest) { r.ConsultationReqID = -5 }, want: domain.ErrNonPositiveConsultationReqID},
		{name: "unknown id", mutate: func(r *domain.AcceptRequest) { r.ConsultationReqID = 999 }, want: domain.ErrConsultationReqNotFound},
		{name: "other consultant", mutate: func(r *domain.AcceptRequest) { r.ConsultantID = otherID }, want: domain.ErrConsultationReqNotFound},
		{
			name: "inside minimum lead time",
			prepare: func(t *testing.T, f *fixture) {
				f.clock.Set(t2.Add(-6 * time.Hour).Add(time.Second))
			},
			want: domain.ErrConsultationReqNotFound,
		},
		{
			name: "user disabled",
			prepare: func(t *testing.T, f *fixture) {
				dbtest.Exec(t, f.conn, `UPDATE accounts SET disabled_at = ? WHERE id = ?`, baseNow, userID)
			},
			want: domain.ErrCounterpartUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedRequest(t)
			if tt.prepare != nil {
				tt.prepare(t, f)
			}
			req := acceptRequest()
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			_, err := f.svc.AcceptConsultationRequest(context.Background(), req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "consultation_requests"))
			assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "settlements"))
			assert.Empty(t, f.mail.sent)
		})
	}
}

func TestAcceptAtExactMinimumLeadTime(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t)
	f.clock.Set(t2.Add(-6 * time.Hour))

	_, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
	require.NoError(t, err)
}

func TestAcceptTimeConflicts(t *testing.T) {
	const strangerID = 4
	tests := []struct {
		name       string
		consultant int64
		user       int64
		want       error
	}{
		{name: "consultant booked as consultant", consultant: int64(consultantID), user: strangerID, want: domain.ErrConsultantTimeConflict},
		{name: "consultant booked as user", consultant: int64(otherID), user: int64(consultantID), want: domain.ErrConsultantTimeConflict},
		{name: "user booked as consultant", consultant: int64(userID), user: strangerID, want: domain.ErrUserTimeConflict},
		{name: "user booked as user", consultant: int64(otherID), user: int64(userID), want: domain.ErrUserTimeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			dbtest.SeedAccount(t, f.conn, strangerID, "stranger@example.com")
			f.seedRequest(t)
			f.seedConsultation(t, 500, snowflake.ID(tt.consultant), snowflake.ID(tt.user), t2)

			_, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "consultations"))
			assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "settlements"))
			assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "consultation_requests"))
		})
	}
}

func TestAcceptOtherCandidateIsNotAConflict(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t)
	f.seedConsultation(t, 500, consultantID, otherID, t1)

	_, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
	require.NoError(t, err)
}

func TestAcceptMaintenanceWindow(t *testing.T) {
	tests := []struct {
		name       string
		start, end time.Time
		want       error
	}{
		{name: "strictly inside", start: t2.Add(-time.Hour), end: t2.Add(time.Hour), want: domain.ErrMeetingOverlapsMaintenance},
		{name: "starts at meeting", start: t2, end: t2.Add(time.Hour), want: domain.ErrMeetingOverlapsMaintenance},
		{name: "ends at meeting", start: t2.Add(-time.Hour), end: t2, want: domain.ErrMeetingOverlapsMaintenance},
		{name: "ends just before", start: t2.Add(-time.Hour), end: t2.Add(-time.Second)},
		{name: "starts just after", start: t2.Add(time.Second), end: t2.Add(time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedRequest(t)
			dbtest.Exec(t, f.conn,
				`INSERT INTO maintenances (id, maintenance_start_at, maintenance_end_at, description) VALUES (1, ?, ?, 'db upgrade')`,
				tt.start.UTC(), tt.end.UTC())

			_, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "consultations"))
		})
	}
}

// blindRepo skips the pre-check so the unique index has to catch the clash.
type blindRepo struct {
	domain.Repository
}

func (r blindRepo) HasConsultationAt(context.Context, *gorm.DB, snowflake.ID, time.Time) (bool, error) {
	return false, nil
}

func TestAcceptUniqueIndexBackstop(t *testing.T) {
	f := newFixture(t, withRepo(func(repo domain.Repository) domain.Repository { return blindRepo{repo} }))
	f.seedRequest(t)
	f.seedConsultation(t, 500, consultantID, otherID, t2)

	_, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
	assert.ErrorIs(t, err, domain.ErrConsultantTimeConflict)
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "consultation_requests"))
	assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "user_ratings"))
}

func TestAcceptUniqueIndexBackstopForUser(t *testing.T) {
	f := newFixture(t, withRepo(func(repo domain.Repository) domain.Repository { return blindRepo{repo} }))
	f.seedRequest(t)
	f.seedConsultation(t, 500, otherID, userID, t2)

	_, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
	assert.ErrorIs(t, err, domain.ErrUserTimeConflict)
}

// racingRepo books one participant in the other role right after the
// pre-check, as a concurrent acceptance committing first would.
type racingRepo struct {
	domain.Repository
	consultant, user snowflake.ID
	meetingAt        time.Time
}

func (r racingRepo) LockRequest(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.ConsultationRequest, error) {
	err := conn.Exec(
		`INSERT INTO consultations (id, user_account_id, consultant_id, meeting_at, room_name, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		600, r.user, r.consultant, r.meetingAt.UTC(), "room-racing", baseNow,
	).Error
	if err != nil {
		return nil, err
	}
	return r.Repository.LockRequest(ctx, conn, id)
}

func TestAcceptRechecksAvailabilityUnderLock(t *testing.T) {
	const strangerID snowflake.ID = 4
	tests := []struct {
		name             string
		consultant, user snowflake.ID
		want             error
	}{
		{name: "user booked as consultant", consultant: userID, user: strangerID, want: domain.ErrUserTimeConflict},
		{name: "consultant booked as user", consultant: otherID, user: consultantID, want: domain.ErrConsultantTimeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, withRepo(func(repo domain.Repository) domain.Repository {
				return racingRepo{Repository: repo, consultant: tt.consultant, user: tt.user, meetingAt: t2}
			}))
			f.seedRequest(t)

			_, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "consultation_requests"))
			assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "settlements"))
			assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "consultations"))
		})
	}
}

type failingSettlementRepo struct {
	domain.Repository
}

func (r failingSettlementRepo) InsertSettlement(context.Context, *gorm.DB, *domain.Settlement) error {
	return errors.New("disk full")
}

func TestAcceptRollsBackOnUnexpectedFailure(t *testing.T) {
	f := newFixture(t, withRepo(func(repo domain.Repository) domain.Repository { return failingSettlementRepo{repo} }))
	f.seedRequest(t)

	_, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnexpected)
	assert.Equal(t, "unexpected_error", err.Error())
	assert.Equal(t, "unexpected_error", domain.Code(err))

	assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "consultations"))
	assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "user_ratings"))
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "consultation_requests"))

	entries := f.logs.FilterMessage("consultation.accept.transaction_failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "disk full", entries[0].ContextMap()["error"])
}

func TestAcceptSwallowsNotifyFailure(t *testing.T) {
	f := newFixture(t)
	f.mail.err = errors.New("smtp down")
	f.seedRequest(t)

	_, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "settlements"))
	assert.Equal(t, 1, f.logs.FilterMessage("consultation.accept.notify_failed").Len())
}

func TestAcceptTwiceReportsNotFound(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t)

	_, err := f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
	require.NoError(t, err)

	req := acceptRequest()
	req.PickedCandidate = 3
	_, err = f.svc.AcceptConsultationRequest(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrConsultationReqNotFound)
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "settlements"))
}

func TestConcurrentAcceptCreatesOneConsultation(t *testing.T) {
	f := newFixture(t)
	f.seedRequest(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.AcceptConsultationRequest(context.Background(), acceptRequest())
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var rejection *domain.RejectionError
		require.ErrorAs(t, err, &rejection)
		assert.Contains(t, []string{"consultation_req_not_found", "consultant_time_conflict"}, rejection.Code)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "consultations"))
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "settlements"))
	assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "consultation_requests"))
}
