package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/rnblock/gateway/internal/apikey/domain"
	"github.com/rnblock/gateway/internal/ratelimit"
	walletdomain "github.com/rnblock/gateway/internal/wallet/domain"
	"go.uber.org/zap"
)

// rateLimitRetryAfter is the advisory retry window returned with 429
// responses. One refill interval.
const rateLimitRetryAfter = "1"

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter string `json:"retryAfter,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// ErrorHandlingMiddleware renders the last recorded error as the
// structured rejection body. Internal identifiers never reach the
// response; unclassified failures collapse to a generic 500.
func ErrorHandlingMiddleware(log *zap.Logger) gin.HandlerFunc {
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
		if status >= http.StatusInternalServerError {
			log.Error("request rejected",
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", status),
				zap.Error(lastErr.Err),
			)
		} else {
			log.Warn("request rejected",
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", status),
				zap.String("reason", payload.Error),
			)
		}

		c.AbortWithStatusJSON(status, payload)
	}
}

// AbortWithError records the error for the error-handling middleware and
// stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorResponse) {
	now := time.Now().UTC().Format(time.RFC3339)

	switch {
	case errors.Is(err, apikeydomain.ErrInvalidKey):
		return http.StatusUnauthorized, errorResponse{
			Error:     "Unauthorized",
			Message:   "API key is missing or invalid",
			Timestamp: now,
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorResponse{
			Error:      "Too Many Requests",
			Message:    "Rate limit exceeded",
			RetryAfter: rateLimitRetryAfter,
			Timestamp:  now,
		}
	case errors.Is(err, walletdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorResponse{
			Error:     "Payment Required",
			Message:   "Insufficient credits",
			Timestamp: now,
		}
	default:
		// Covers configuration and integrity failures too; their detail
		// belongs in the log, not the body.
		return http.StatusInternalServerError, errorResponse{
			Error:     "Internal Server Error",
			Message:   "An unexpected error occurred. Please try again later.",
			Timestamp: now,
		}
	}
}
