package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/consultly/internal/consultation/domain"
)

type createConsultationRequest struct {
	ConsultantID            string    `json:"consultant_id"`
	FeePerHourInYen         int64     `json:"fee_per_hour_in_yen"`
	CardToken               string    `json:"card_token"`
	FirstCandidateDateTime  time.Time `json:"first_candidate_date_time"`
	SecondCandidateDateTime time.Time `json:"second_candidate_date_time"`
	ThirdCandidateDateTime  time.Time `json:"third_candidate_date_time"`
}

type acceptConsultationRequest struct {
	PickedCandidate     int  `json:"picked_candidate"`
	ConsultantConfirmed bool `json:"consultant_confirmed"`
}

func (s *Server) CreateConsultationRequest(c *gin.Context) {
	var req createConsultationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	consultantID, err := snowflake.ParseString(strings.TrimSpace(req.ConsultantID))
	if err != nil || strings.TrimSpace(req.CardToken) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.consultationSvc.RequestConsultation(c.Request.Context(), domain.RequestConsultationRequest{
		UserAccountID:   callerID(c),
		ConsultantID:    consultantID,
		FeePerHourInYen: req.FeePerHourInYen,
		CardToken:       strings.TrimSpace(req.CardToken),
		Candidates: [3]time.Time{
			req.FirstCandidateDateTime,
			req.SecondCandidateDateTime,
			req.ThirdCandidateDateTime,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"consultation_req_id": resp.ConsultationReqID.String()})
}

func (s *Server) AcceptConsultationRequest(c *gin.Context) {
	// Non-positive ids reach the service so the caller gets its rejection code.
	reqID, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req acceptConsultationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.consultationSvc.AcceptConsultationRequest(c.Request.Context(), domain.AcceptRequest{
		ConsultationReqID:   reqID,
		ConsultantID:        callerID(c),
		PickedCandidate:     req.PickedCandidate,
		ConsultantConfirmed: req.ConsultantConfirmed,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"consultation_id": resp.ConsultationID.String(),
		"meeting_at":      resp.MeetingAt.UTC().Format(time.RFC3339),
	})
}
