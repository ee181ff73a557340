package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	accountrepository "github.com/smallbiznis/consultly/internal/account/repository"
	accountservice "github.com/smallbiznis/consultly/internal/account/service"
	"github.com/smallbiznis/consultly/internal/clock"
	"github.com/smallbiznis/consultly/internal/config"
	"github.com/smallbiznis/consultly/internal/consultation/domain"
	"github.com/smallbiznis/consultly/internal/consultation/repository"
	"github.com/smallbiznis/consultly/internal/notification"
	"github.com/smallbiznis/consultly/internal/observability/metrics"
	"github.com/smallbiznis/consultly/internal/providers/email"
	paymentmock "github.com/smallbiznis/consultly/internal/payment/mock"
	"github.com/smallbiznis/consultly/internal/rewards"
	"github.com/smallbiznis/consultly/pkg/db/dbtest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	consultantID snowflake.ID = 1
	userID       snowflake.ID = 2
	otherID      snowflake.ID = 3
	requestID    snowflake.ID = 10
)

var (
	baseNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	t1      = time.Date(2024, 6, 8, 1, 0, 0, 0, time.UTC)
	t2      = time.Date(2024, 6, 8, 2, 0, 0, 0, time.UTC)
	t3      = time.Date(2024, 6, 8, 3, 0, 0, 0, time.UTC)
)

type capturedMail struct {
	to      []string
	subject string
	body    string
}

type recordingEmail struct {
	sent []capturedMail
	err  error
}

func (r *recordingEmail) Send(_ context.Context, to []string, subject string, body string) error {
	r.sent = append(r.sent, capturedMail{to: to, subject: subject, body: body})
	return r.err
}

func (r *recordingEmail) SendTemplate(ctx context.Context, to []string, templateName string, data interface{}) error {
	subject, body, err := email.Render(templateName, data)
	if err != nil {
		return err
	}
	return r.Send(ctx, to, subject, body)
}

type fixture struct {
	conn    *gorm.DB
	clock   *clock.FakeClock
	rules   config.BusinessRules
	repo    domain.Repository
	gateway *paymentmock.MockGateway
	mail    *recordingEmail
	logs    *observer.ObservedLogs
	svc     domain.Service
}

type fixtureOption func(*fixtureOptions)

type fixtureOptions struct {
	rules func(*config.BusinessRules)
	repo  func(domain.Repository) domain.Repository
}

func withRules(fn func(*config.BusinessRules)) fixtureOption {
	return func(o *fixtureOptions) { o.rules = fn }
}

func withRepo(fn func(domain.Repository) domain.Repository) fixtureOption {
	return func(o *fixtureOptions) { o.repo = fn }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	var o fixtureOptions
	for _, opt := range opts {
		opt(&o)
	}

	conn := dbtest.Open(t)
	dbtest.SeedConsultant(t, conn, int64(consultantID), "consultant@example.com", 3000)
	dbtest.SeedAccount(t, conn, int64(userID), "user@example.com")
	dbtest.SeedConsultant(t, conn, int64(otherID), "other@example.com", 5000)

	rules := config.DefaultBusinessRules()
	if o.rules != nil {
		o.rules(&rules)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	fakeClock := clock.NewFakeClock(baseNow)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := repository.Provide()
	if o.repo != nil {
		repo = o.repo(repo)
	}

	accounts := accountservice.New(accountservice.Params{DB: conn, Log: log, Repo: accountrepository.Provide()})
	guard, err := rewards.New(rewards.Params{DB: conn, Log: log, Clock: fakeClock, Rules: rules, Repo: rewards.NewRepository()})
	require.NoError(t, err)
	mail := &recordingEmail{}
	notifier := notification.New(notification.Params{Email: mail, Accounts: accounts, Rules: rules, Log: log})

	ctrl := gomock.NewController(t)
	gateway := paymentmock.NewMockGateway(ctrl)
	gateway.EXPECT().Provider().Return("payjp").AnyTimes()

	svc, err := New(Params{
		DB:       conn,
		Log:      log,
		Clock:    fakeClock,
		Rules:    rules,
		GenID:    node,
		Repo:     repo,
		Accounts: accounts,
		Guard:    guard,
		Gateway:  gateway,
		Notifier: notifier,
		Metrics:  metrics.NewNop(),
	})
	require.NoError(t, err)

	return &fixture{
		conn:    conn,
		clock:   fakeClock,
		rules:   rules,
		repo:    repository.Provide(),
		gateway: gateway,
		mail:    mail,
		logs:    logs,
		svc:     svc,
	}
}

func (f *fixture) seedRequest(t *testing.T) {
	t.Helper()
	err := f.repo.InsertRequest(context.Background(), f.conn, &domain.ConsultationRequest{
		ID:                          requestID,
		UserAccountID:               userID,
		ConsultantID:                consultantID,
		FeePerHourInYen:             3000,
		PlatformFeeRateInPercentage: 30,
		FirstCandidateDateTime:      t1,
		SecondCandidateDateTime:     t2,
		ThirdCandidateDateTime:      t3,
		LatestCandidateDateTime:     t3,
		ChargeID:                    "ch_10",
		AuthorizationMetadata:       datatypes.JSONMap{"consultant_id": "1"},
		CreditFacilitiesExpiredAt:   baseNow.AddDate(0, 0, 50),
		CreatedAt:                   baseNow,
	})
	require.NoError(t, err)
}

func (f *fixture) seedConsultation(t *testing.T, id int64, consultant, user snowflake.ID, meetingAt time.Time) {
	t.Helper()
	dbtest.Exec(t, f.conn,
		`INSERT INTO consultations (id, user_account_id, consultant_id, meeting_at, room_name, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, user, consultant, meetingAt.UTC(), "room-existing-"+snowflake.ID(id).String(), baseNow)
}

func acceptRequest() domain.AcceptRequest {
	return domain.AcceptRequest{
		ConsultationReqID:   int64(requestID),
		ConsultantID:        consultantID,
		PickedCandidate:     2,
		ConsultantConfirmed: true,
	}
}
