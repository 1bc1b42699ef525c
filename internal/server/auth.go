package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/rnblock/gateway/internal/apikey/domain"
	"github.com/rnblock/gateway/internal/identity"
	obsmetrics "github.com/rnblock/gateway/internal/observability/metrics"
	"github.com/rnblock/gateway/internal/ratelimit"
	usagedomain "github.com/rnblock/gateway/internal/usage/domain"
	walletdomain "github.com/rnblock/gateway/internal/wallet/domain"
)

const bearerPrefix = "Bearer "

// AdmissionGate authenticates, rate-limits and bills every request on
// the protected path prefix, in that order. It attaches the resolved
// identity for downstream handlers and records usage after the response
// is finalized regardless of downstream outcome.
func (s *Server) AdmissionGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		raw := extractCredential(c)
		if raw == "" {
			s.metrics.RecordAdmission(obsmetrics.OutcomeInvalidKey)
			AbortWithError(c, apikeydomain.ErrInvalidKey)
			return
		}

		ctx := c.Request.Context()

		key, err := s.resolver.Resolve(ctx, raw)
		if err != nil {
			s.metrics.RecordAdmission(outcomeFor(err))
			AbortWithError(c, err)
			return
		}

		allowed, err := s.limiter.Admit(ctx, key.KeyHash)
		if err != nil {
			// Store failure: fail closed, never silently admit.
			s.metrics.RecordAdmission(obsmetrics.OutcomeError)
			AbortWithError(c, err)
			return
		}
		if !allowed {
			s.metrics.RecordAdmission(obsmetrics.OutcomeRateLimited)
			AbortWithError(c, ratelimit.ErrRateLimited)
			return
		}

		remaining, err := s.ledger.Charge(ctx, key)
		if err != nil {
			s.metrics.RecordAdmission(outcomeFor(err))
			AbortWithError(c, err)
			return
		}

		s.metrics.RecordAdmission(obsmetrics.OutcomeAdmitted)
		c.Request = c.Request.WithContext(identity.WithIdentity(ctx, identity.Identity{
			APIKeyID:         key.ID,
			OrgID:            key.OrgID,
			RemainingCredits: remaining,
		}))

		// Deferred so the record survives a downstream panic: the reverse
		// proxy aborts with http.ErrAbortHandler when the client
		// disconnects mid-response, and a charged request must still leave
		// exactly one usage record.
		defer func() {
			s.recorder.Record(usagedomain.Entry{
				APIKeyID:       key.ID,
				OrgID:          key.OrgID,
				Path:           c.Request.URL.Path,
				Method:         c.Request.Method,
				StatusCode:     c.Writer.Status(),
				ResponseTimeMS: time.Since(start).Milliseconds(),
				CreditsUsed:    1,
				IPAddress:      clientIP(c),
				UserAgent:      c.Request.UserAgent(),
			})
		}()

		c.Next()
	}
}

// extractCredential prefers the Authorization bearer token and falls
// back to the dedicated API key header.
func extractCredential(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}

func clientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host := c.Request.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, apikeydomain.ErrInvalidKey):
		return obsmetrics.OutcomeInvalidKey
	case errors.Is(err, ratelimit.ErrRateLimited):
		return obsmetrics.OutcomeRateLimited
	case errors.Is(err, walletdomain.ErrInsufficientCredits):
		return obsmetrics.OutcomeInsufficientCredits
	default:
		return obsmetrics.OutcomeError
	}
}
