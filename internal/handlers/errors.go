package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/malaysiangroceries/kopikopi-be/internal/middleware"
)

// ErrorHandler renders every error returned by a handler as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "Internal server error",
		"details": err.Error(),
	})
}

// serverError answers 500 with a public message and the underlying cause.
func serverError(c *fiber.Ctx, message string, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   message,
		"details": err.Error(),
	})
}

// looseString accepts any JSON scalar and keeps its text form, so
// {"code": 1234} and {"code": "1234"} read the same.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
	default:
		*s = looseString(data)
	}
	return nil
}

func (s looseString) String() string {
	return strings.TrimSpace(string(s))
}

// parseBody decodes a JSON body. A missing or malformed body yields the zero
// value so that field validation reports the problem.
func parseBody[T any](c *fiber.Ctx) T {
	var body T
	if err := c.BodyParser(&body); err != nil {
		middleware.Logger(c).Debug("ignoring unreadable request body", zap.Error(err))
		var zero T
		return zero
	}
	return body
}
