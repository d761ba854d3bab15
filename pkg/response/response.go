package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/docuprompt/api/internal/model"
)

// Error codes used only by the HTTP surface
const (
	CodeRateLimited  = "RATE_LIMITED"
	CodeUpgrade      = "UPGRADE_REQUIRED"
	CodeServiceError = "SERVICE_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, model.CodeValidation, message, details)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, model.CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func UpgradeRequired(c *fiber.Ctx) error {
	return Error(c, fiber.StatusUpgradeRequired, CodeUpgrade, "WebSocket upgrade required", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

// FromError maps a domain error onto an HTTP error response
func FromError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return NotFound(c, err.Error())
	case errors.Is(err, model.ErrValidation):
		return Error(c, fiber.StatusBadRequest, model.ErrorCode(err), err.Error(), nil)
	default:
		return ServiceError(c, "Internal server error")
	}
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}
