package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/consultly/internal/consultation/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
)

var rejectionMessages = map[string]string{
	"invalid_candidate":                "picked candidate must be 1, 2 or 3",
	"consultation_not_confirmed":       "consultant must confirm the consultation",
	"non_positive_consultation_req_id": "consultation request id must be positive",
	"consultation_req_not_found":       "consultation request not found",
	"counterpart_unavailable":          "the other party is unavailable",
	"consultant_time_conflict":         "consultant already has a consultation at that time",
	"user_time_conflict":               "user already has a consultation at that time",
	"meeting_overlaps_maintenance":     "meeting time overlaps a maintenance window",
	"reward_cap_exceeded":              "consultant has reached the annual reward limit",
	"fee_mismatch":                     "fee per hour has changed",
	"duplicate_candidates":             "candidate times must differ",
	"candidate_out_of_range":           "candidate time is outside the bookable range",
	"consultant_not_found":             "consultant not found",
	"same_account":                     "cannot request a consultation with yourself",
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var rejection *domain.RejectionError
	switch {
	case errors.As(err, &rejection):
		message, ok := rejectionMessages[rejection.Code]
		if !ok {
			message = rejection.Code
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "rejection",
			Code:    rejection.Code,
			Message: message,
		}
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    "invalid_request",
			Message: "invalid request",
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Code:    "unauthorized",
			Message: "unauthorized",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    domain.ErrUnexpected.Error(),
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog reports the log type and code; causes behind
// unexpected_error stay out of the request log.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
