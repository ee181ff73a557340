package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	accountrepository "github.com/smallbiznis/consultly/internal/account/repository"
	accountservice "github.com/smallbiznis/consultly/internal/account/service"
	"github.com/smallbiznis/consultly/internal/clock"
	"github.com/smallbiznis/consultly/internal/config"
	"github.com/smallbiznis/consultly/internal/notification"
	paymentdomain "github.com/smallbiznis/consultly/internal/payment/domain"
	paymentmock "github.com/smallbiznis/consultly/internal/payment/mock"
	"github.com/smallbiznis/consultly/internal/providers/email"
	"github.com/smallbiznis/consultly/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var (
	now = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	// meetings at or before dueAt are settled.
	dueAt = now.Add(-(time.Hour + 14*24*time.Hour))
)

type sentMail struct {
	to      []string
	subject string
	body    string
}

type recordingEmail struct {
	sent []sentMail
}

func (r *recordingEmail) Send(_ context.Context, to []string, subject string, body string) error {
	r.sent = append(r.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (r *recordingEmail) SendTemplate(ctx context.Context, to []string, templateName string, data interface{}) error {
	subject, body, err := email.Render(templateName, data)
	if err != nil {
		return err
	}
	return r.Send(ctx, to, subject, body)
}

type recordingUploader struct {
	key         string
	contentType string
	body        []byte
	err         error
}

func (u *recordingUploader) Put(_ context.Context, key string, contentType string, body []byte) error {
	u.key, u.contentType, u.body = key, contentType, body
	return u.err
}

type fakeLeaser struct {
	granted  bool
	err      error
	released []string
}

func (l *fakeLeaser) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	if l.err != nil || !l.granted {
		return "", false, l.err
	}
	return "token-1", true, nil
}

func (l *fakeLeaser) Release(_ context.Context, key, token string) error {
	l.released = append(l.released, key+"="+token)
	return nil
}

type fixture struct {
	conn    *gorm.DB
	gateway *paymentmock.MockGateway
	mail    *recordingEmail
	logs    *observer.ObservedLogs
	params  Params
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	dbtest.SeedConsultant(t, conn, 1, "consultant@example.com", 3000)
	dbtest.SeedAccount(t, conn, 2, "user@example.com")

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	rules := config.DefaultBusinessRules()
	mail := &recordingEmail{}
	accounts := accountservice.New(accountservice.Params{DB: conn, Log: log, Repo: accountrepository.Provide()})
	notifier := notification.New(notification.Params{Email: mail, Accounts: accounts, Rules: rules, Log: log})
	gateway := paymentmock.NewMockGateway(gomock.NewController(t))

	return &fixture{
		conn:    conn,
		gateway: gateway,
		mail:    mail,
		logs:    logs,
		params: Params{
			DB:       conn,
			Log:      log,
			Clock:    clock.NewFakeClock(now),
			Rules:    rules,
			GenID:    node,
			Gateway:  gateway,
			Notifier: notifier,
			Config:   Config{MaxBatchSize: 10, AdminEmailAddress: "ops@example.com"},
		},
	}
}

func (f *fixture) sweeper(t *testing.T) *Sweeper {
	t.Helper()
	sw, err := New(f.params)
	require.NoError(t, err)
	return sw
}

// seedSettlement stores a consultation at meetingAt and its settlement under
// the same id.
func (f *fixture) seedSettlement(t *testing.T, id int64, meetingAt time.Time) {
	t.Helper()
	dbtest.Exec(t, f.conn,
		`INSERT INTO consultations (id, user_account_id, consultant_id, meeting_at, room_name, created_at) VALUES (?, 2, 1, ?, ?, ?)`,
		id, meetingAt.UTC(), fmt.Sprintf("room-%d", id), now.AddDate(0, -2, 0))
	dbtest.Exec(t, f.conn,
		`INSERT INTO settlements (id, consultation_id, charge_id, fee_per_hour_in_yen, platform_fee_rate_in_percentage, credit_facilities_expired_at) VALUES (?, ?, ?, 3000, 30, ?)`,
		id, id, fmt.Sprintf("ch_%d", id), now.AddDate(0, 0, 10))
}

func TestRunNewFailsWithoutDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunSettlesOnlyDueSettlements(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 101, dueAt.Add(-48*time.Hour))
	f.seedSettlement(t, 102, dueAt)
	f.seedSettlement(t, 103, dueAt.Add(time.Second))

	gomock.InOrder(
		f.gateway.EXPECT().Capture(gomock.Any(), "ch_101").Return(nil),
		f.gateway.EXPECT().Capture(gomock.Any(), "ch_102").Return(nil),
	)

	res, err := f.sweeper(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Due)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Failed)

	assert.Equal(t, int64(2), dbtest.Count(t, f.conn, "receipts"))
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "settlements"))

	var remaining int64
	require.NoError(t, f.conn.Raw(`SELECT id FROM settlements`).Scan(&remaining).Error)
	assert.Equal(t, int64(103), remaining)

	var settledAt time.Time
	require.NoError(t, f.conn.Raw(`SELECT settled_at FROM receipts WHERE consultation_id = 101`).Scan(&settledAt).Error)
	assert.True(t, settledAt.Equal(now))

	assert.Empty(t, f.mail.sent)
	assert.Equal(t, 2, f.logs.FilterMessage("sweeper.row.settled").Len())
}

func TestRunReportsCaptureFailures(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 201, dueAt.Add(-2*time.Hour))
	f.seedSettlement(t, 202, dueAt.Add(-time.Hour))

	gomock.InOrder(
		f.gateway.EXPECT().Capture(gomock.Any(), "ch_201").Return(errors.New("gateway timeout")),
		f.gateway.EXPECT().Capture(gomock.Any(), "ch_202").Return(nil),
	)

	res, err := f.sweeper(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)

	var stillPending int64
	require.NoError(t, f.conn.Raw(`SELECT COUNT(1) FROM settlements WHERE id = 201`).Scan(&stillPending).Error)
	assert.Equal(t, int64(1), stillPending)
	var receipts int64
	require.NoError(t, f.conn.Raw(`SELECT COUNT(1) FROM receipts WHERE consultation_id = 201`).Scan(&receipts).Error)
	assert.Equal(t, int64(0), receipts)
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "receipts"))

	require.Len(t, f.mail.sent, 1)
	mail := f.mail.sent[0]
	assert.Equal(t, []string{"ops@example.com"}, mail.to)
	assert.Equal(t, "[settlement-sweeper] settlement run report", mail.subject)
	assert.Contains(t, mail.body, "1 were processed, 1 were failed")
	assert.Contains(t, mail.body, "settlement_id=201 consultation_id=201 charge_id=ch_201 fee_per_hour_in_yen=3000 platform_fee_rate_in_percentage=30")
	assert.Contains(t, mail.body, "gateway timeout")
	assert.NotContains(t, mail.body, "ch_202")
	assert.NotContains(t, mail.body, "settlement_id=202")

	entries := f.logs.FilterMessage("sweeper.row.failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ch_201", entries[0].ContextMap()["charge_id"])
	assert.Equal(t, false, entries[0].ContextMap()["retryable"])
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 301, dueAt)
	f.gateway.EXPECT().Capture(gomock.Any(), "ch_301").Return(nil).Times(1)

	sw := f.sweeper(t)
	_, err := sw.Run(context.Background())
	require.NoError(t, err)

	res, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due)
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "receipts"))
}

func TestRunTreatsAlreadyCapturedAsSettled(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 401, dueAt)
	f.gateway.EXPECT().Capture(gomock.Any(), "ch_401").
		Return(fmt.Errorf("payjp: %w", paymentdomain.ErrAlreadyCaptured))

	res, err := f.sweeper(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "receipts"))
	assert.Equal(t, int64(0), dbtest.Count(t, f.conn, "settlements"))
	assert.Equal(t, 1, f.logs.FilterMessage("sweeper.capture.already_captured").Len())
}

// phantomRepo lists a settlement another runner already removed.
type phantomRepo struct {
	Repository
}

func (r phantomRepo) ListDue(ctx context.Context, db *gorm.DB, at time.Time, limit int) ([]DueSettlement, error) {
	rows, err := r.Repository.ListDue(ctx, db, at, limit)
	return append([]DueSettlement{{ID: 999, ConsultationID: 999, ChargeID: "ch_999", MeetingAt: at}}, rows...), err
}

func TestRunSkipsSettlementsThatAreGone(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 501, dueAt)
	f.params.Repo = phantomRepo{NewRepository()}
	f.gateway.EXPECT().Capture(gomock.Any(), "ch_501").Return(nil)

	res, err := f.sweeper(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Due)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, f.logs.FilterMessage("sweeper.row.already_gone").Len())
}

func TestRunRespectsBatchSize(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 601, dueAt.Add(-time.Hour))
	f.seedSettlement(t, 602, dueAt.Add(-2*time.Hour))
	f.params.Config.MaxBatchSize = 1
	f.gateway.EXPECT().Capture(gomock.Any(), "ch_602").Return(nil)

	res, err := f.sweeper(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestRunSleepsBetweenRows(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 701, dueAt.Add(-2*time.Hour))
	f.seedSettlement(t, 702, dueAt.Add(-time.Hour))
	f.seedSettlement(t, 703, dueAt)
	f.params.Config.InterIterationDelay = 250 * time.Millisecond
	f.gateway.EXPECT().Capture(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	sw := f.sweeper(t)
	var slept []time.Duration
	sw.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := sw.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, slept)
}

func TestRunStopsWhenCancelledBetweenRows(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 801, dueAt.Add(-time.Hour))
	f.seedSettlement(t, 802, dueAt)
	f.params.Config.InterIterationDelay = time.Second
	f.gateway.EXPECT().Capture(gomock.Any(), "ch_801").Return(nil)

	sw := f.sweeper(t)
	sw.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	res, err := sw.Run(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "settlements"))
}

func TestRunExitsWhenLeaseIsHeld(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 901, dueAt)
	f.params.Leaser = &fakeLeaser{granted: false}

	res, err := f.sweeper(t).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.LeaseBusy)
	assert.Equal(t, int64(1), dbtest.Count(t, f.conn, "settlements"))
	assert.Equal(t, 1, f.logs.FilterMessage("sweeper.lease.busy").Len())
}

func TestRunReleasesLease(t *testing.T) {
	f := newFixture(t)
	leaser := &fakeLeaser{granted: true}
	f.params.Leaser = leaser

	_, err := f.sweeper(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"consultly:settlement-sweeper:lease=token-1"}, leaser.released)
}

func TestRunProceedsWhenLeaseStoreIsDown(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 1001, dueAt)
	f.params.Leaser = &fakeLeaser{err: errors.New("dial tcp: connection refused")}
	f.gateway.EXPECT().Capture(gomock.Any(), "ch_1001").Return(nil)

	res, err := f.sweeper(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, f.logs.FilterMessage("sweeper.lease.unavailable").Len())
}

func TestRunArchivesReport(t *testing.T) {
	f := newFixture(t)
	f.seedSettlement(t, 1101, dueAt)
	uploader := &recordingUploader{}
	f.params.Uploader = uploader
	f.gateway.EXPECT().Capture(gomock.Any(), "ch_1101").Return(errors.New("card expired"))

	res, err := f.sweeper(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "settlement-sweeper/"+res.RunID+".json", uploader.key)
	assert.Equal(t, "application/json", uploader.contentType)

	var report notification.SweepReport
	require.NoError(t, json.Unmarshal(uploader.body, &report))
	assert.Equal(t, "settlement-sweeper", report.Tool)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, int64(1101), report.Failures[0].SettlementID)
	assert.Equal(t, "ch_1101", report.Failures[0].ChargeID)
}

func TestRunIgnoresUploadFailure(t *testing.T) {
	f := newFixture(t)
	f.params.Uploader = &recordingUploader{err: errors.New("access denied")}

	res, err := f.sweeper(t).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, f.logs.FilterMessage("sweeper.report.upload_failed").Len())
}
