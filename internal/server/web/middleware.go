package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kubellm/kubellm/internal/telemetry"
	"github.com/kubellm/kubellm/internal/util"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type authenticationError interface {
	Error() string
	Authenticated()
}

type expirationError interface {
	Error() string
	Expired()
}

type revokedError interface {
	Error() string
	Revoked()
}

type notFoundError interface {
	Error() string
	NotFound()
}

type rateLimitError interface {
	Error() string
	RateLimit()
}

type costLimitError interface {
	Error() string
	CostLimit()
}

type validationError interface {
	Error() string
	Validation()
}

type timeoutError interface {
	Error() string
	Timeout()
}

type cancelledError interface {
	Error() string
	Cancelled()
}

type providerError interface {
	Error() string
	Provider()
}

// 499 is the de facto status for a client that hung up first.
const statusClientClosedRequest = 499

// mapError turns a typed routing error into the http status and message
// the openai compatible surface reports.
func mapError(err error) (int, string) {
	message := "[kubellm] " + err.Error()

	switch err.(type) {
	case authenticationError:
		return http.StatusUnauthorized, message
	case expirationError:
		return http.StatusUnauthorized, message
	case revokedError:
		return http.StatusUnauthorized, message
	case notFoundError:
		return http.StatusNotFound, message
	case rateLimitError:
		return http.StatusTooManyRequests, message
	case costLimitError:
		return http.StatusPaymentRequired, message
	case validationError:
		return http.StatusBadRequest, message
	case timeoutError:
		return http.StatusGatewayTimeout, message
	case cancelledError:
		return statusClientClosedRequest, message
	case providerError:
		return http.StatusBadGateway, message
	}

	return http.StatusInternalServerError, message
}

// JSON writes an openai style error body.
func JSON(c *gin.Context, code int, message string) {
	c.JSON(code, &goopenai.ErrorResponse{
		Error: &goopenai.APIError{
			Type:    errorType(code),
			Message: message,
		},
	})
}

func errorType(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusNotFound:
		return "invalid_request_error"
	case http.StatusBadRequest:
		return "invalid_request_error"
	}

	return "kubellm_error"
}

func getMiddleware(log *zap.Logger, prod bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/api/health" {
			c.Next()
			return
		}

		cid := util.NewUuid()
		c.Set(correlationId, cid)
		c.Header("X-Request-Id", cid)

		start := time.Now()

		c.Next()

		dur := time.Since(start)
		latency := int(dur.Milliseconds())

		if !prod {
			log.Sugar().Infof("proxy | %d | %s | %s | %dms", c.Writer.Status(), c.Request.Method, c.FullPath(), latency)
		}

		if prod {
			log.Info("response to proxy",
				zap.String(correlationId, cid),
				zap.Int("code", c.Writer.Status()),
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Int("latencyInMs", latency),
			)
		}

		telemetry.Timing("kubellm.proxy.middleware.latency_in_ms", dur, nil, 1)
		telemetry.Incr("kubellm.proxy.middleware.responses", []string{
			"status:" + strconv.Itoa(c.Writer.Status()),
		}, 1)
	}
}
