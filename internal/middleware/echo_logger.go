package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// EchoZapLogger возвращает middleware для Echo, которое логирует запросы с помощью zap.
func EchoZapLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			res := c.Response()

			requestFields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.String("remote_ip", c.RealIP()),
			}
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = res.Header().Get(echo.HeaderXRequestID)
			}
			if id != "" {
				requestFields = append(requestFields, zap.String("request_id", id))
			}

			err := next(c)

			status := res.Status
			if err != nil {
				// Ответ еще не записан: статус определит HTTPErrorHandler
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if !res.Committed {
					status = http.StatusInternalServerError
				}
			}
			fields := append(requestFields,
				zap.Int("status", status),
				zap.Duration("latency", time.Since(start)),
			)
			if err != nil {
				fields = append(fields, zap.Error(err))
			}

			switch {
			case status >= http.StatusInternalServerError:
				log.Error("Server error", fields...)
			case status >= http.StatusBadRequest:
				log.Warn("Client error", fields...)
			default:
				log.Info("Success", fields...)
			}
			return err
		}
	}
}
