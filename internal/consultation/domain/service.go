package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	RequestConsultation(ctx context.Context, req RequestConsultationRequest) (RequestConsultationResponse, error)
	AcceptConsultationRequest(ctx context.Context, req AcceptRequest) (AcceptResponse, error)
}

type RequestConsultationRequest struct {
	UserAccountID   snowflake.ID
	ConsultantID    snowflake.ID
	FeePerHourInYen int64
	CardToken       string
	Candidates      [3]time.Time
}

type RequestConsultationResponse struct {
	ConsultationReqID snowflake.ID `json:"consultation_req_id"`
}

type AcceptRequest struct {
	ConsultationReqID   int64
	ConsultantID        snowflake.ID
	PickedCandidate     int
	ConsultantConfirmed bool
}

type AcceptResponse struct {
	ConsultationID snowflake.ID `json:"consultation_id"`
	MeetingAt      time.Time    `json:"meeting_at"`
}
