package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/httpclient"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/monitoring"
	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/redisstore"
)

const requestIDKey = "request_id"

// requestIDMiddleware accepts the caller's X-Request-Id or mints one, then
// propagates it through the request context and the response header.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(httpclient.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(httpclient.RequestIDHeader, id)
		c.Request = c.Request.WithContext(httpclient.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// verifySignature rejects inbound POSTs whose HMAC does not match the shared
// secret. No-op when the secret is unset; GETs pass unsigned.
func verifySignature(secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !httpclient.Verify(secret, body, c.GetHeader(httpclient.SignatureHeader)) {
			logger.Warn("Rejected unsigned request",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetString(requestIDKey)),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
			return
		}
		c.Next()
	}
}

// rateLimit enforces the per-user token bucket, keyed by X-User-Id or
// "global". A limiter error fails open.
func rateLimit(limiter redisstore.Limiter, monitor *monitoring.Monitor, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-User-Id")
		if key == "" {
			key = "global"
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limiter error, allowing request", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			monitor.IncRateLimited()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"message": "rate limit exceeded",
					"type":    "rate_limited",
				},
			})
			return
		}
		c.Next()
	}
}

// pipelineTimeout bounds chat request handling with a cancellation context.
// The chat handlers translate the expired context into a 504.
func pipelineTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 || !strings.HasPrefix(c.Request.URL.Path, "/v1/chat/") {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
