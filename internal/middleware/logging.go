package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const loggerContextKey = "requestLogger"

// RequestID tags every request with a ULID, echoed back in X-Request-ID.
func RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: func() string { return ulid.Make().String() },
	})
}

// RequestLogger logs request completion with structured fields and stores a
// request-scoped logger for handlers.
func RequestLogger(base *zap.Logger) fiber.Handler {
	if base == nil {
		base = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		start := time.Now()
		log := base.With(
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("remote_ip", c.IP()),
		)
		c.Locals(loggerContextKey, log)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			// The app error handler runs after middleware, so derive the status it will write.
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		fields := []zap.Field{
			zap.String("route", c.Route().Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		switch {
		case status >= fiber.StatusInternalServerError:
			log.Error("request completed", append(fields, zap.Error(err))...)
		case status >= fiber.StatusBadRequest:
			log.Warn("request completed", fields...)
		default:
			log.Info("request completed", fields...)
		}
		return err
	}
}

// Logger returns the request-scoped logger, or a no-op logger outside RequestLogger.
func Logger(c *fiber.Ctx) *zap.Logger {
	if log, ok := c.Locals(loggerContextKey).(*zap.Logger); ok && log != nil {
		return log
	}
	return zap.NewNop()
}
