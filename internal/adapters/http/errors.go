package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/token"
)

// Error codes carried in the JSON error body.
const (
	CodeBadRequest    = "bad_request"
	CodeInvalidSeat   = "invalid_seat"
	CodeInvalidRoom   = "invalid_room"
	CodeUnauthorized  = "unauthorized"
	CodeForbidden     = "forbidden"
	CodeSeatBanned    = "seat_banned"
	CodeNotSeatOwner  = "not_seat_owner"
	CodeAlreadySeated = "already_seated"
	CodeRateLimited   = "rate_limited"
	CodeInternal      = "internal"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidSeat, http.StatusBadRequest, CodeInvalidSeat},
	{domain.ErrRoomNameEmpty, http.StatusBadRequest, CodeInvalidRoom},
	{domain.ErrRoomNameTooLong, http.StatusBadRequest, CodeInvalidRoom},
	{token.ErrBadRequest, http.StatusBadRequest, CodeBadRequest},
	{domain.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
	{token.ErrInvalidToken, http.StatusUnauthorized, CodeUnauthorized},
	{token.ErrExpiredToken, http.StatusUnauthorized, CodeUnauthorized},
	{domain.ErrForbidden, http.StatusForbidden, CodeForbidden},
	{domain.ErrSeatBanned, http.StatusForbidden, CodeSeatBanned},
	{domain.ErrNotSeatOwner, http.StatusForbidden, CodeNotSeatOwner},
	{domain.ErrAlreadySeated, http.StatusConflict, CodeAlreadySeated},
	{domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
}

func statusOf(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

func abortWithError(c *gin.Context, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Str("module", "adapters.http").Str("path", c.FullPath()).Err(err).Msg("request failed")
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: CodeBadRequest, Message: msg})
}
