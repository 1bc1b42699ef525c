package server

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// newUpstreamProxy forwards admitted requests to the single configured
// backend base URL. Which backend serves which path is decided outside
// the gateway; this core only fronts one upstream.
func newUpstreamProxy(rawURL string, log *zap.Logger) (gin.HandlerFunc, error) {
	log = log.Named("proxy")

	if rawURL == "" {
		// No upstream wired (e.g. local development): admitted requests
		// still consume credits but get a 502 body.
		return func(c *gin.Context) {
			c.JSON(http.StatusBadGateway, errorResponse{
				Error:     "Bad Gateway",
				Message:   "No upstream configured",
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}, nil
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("upstream request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(errorResponse{
			Error:     "Bad Gateway",
			Message:   "Upstream request failed",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}

	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}
