package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"marketengine/internal/logger"
)

// RequestLogging tags each request with a trace ID (reusing X-Request-ID
// when the client sends one) and logs it on completion.
func RequestLogging() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			tid := req.Header.Get(echo.HeaderXRequestID)
			if tid == "" {
				tid = uuid.NewString()
			}
			res.Header().Set(echo.HeaderXRequestID, tid)
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), tid)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("route", c.Path()),
				zap.String("uri", req.RequestURI),
				zap.String("remote", c.RealIP()),
				zap.Int("status", res.Status),
				zap.Duration("latency", time.Since(start)),
			}
			l := logger.FromContext(c.Request().Context())
			if res.Status >= 500 {
				l.Error("api: request failed", fields...)
			} else {
				l.Debug("api: request", fields...)
			}
			return nil
		}
	}
}
