package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
)

type Response struct {
	Status  bool        `json:"status"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"` // kept for backward compatibility
}

// ResError documents the failure envelope in the OpenAPI spec.
type ResError struct {
	Status  bool   `json:"status" example:"false"`
	Code    int    `json:"code" example:"400"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func logSuccess(c *fiber.Ctx, code int, message string) {
	statusMessage := http.StatusText(code)

	if statusMessage == message || c.OriginalURL() == BaseURL {
		log.Print(c).Info(fmt.Sprintf("%d %v", code, statusMessage))
	} else {
		log.Print(c).Info(fmt.Sprintf("%d %v", code, message))
	}
}

func logError(c *fiber.Ctx, code int, message string) {
	entry := log.Print(c)

	// 4xx are caller mistakes; keep error level for server-side failures
	if code < http.StatusInternalServerError {
		entry.Warn(fmt.Sprintf("%d %v", code, message))
		return
	}
	entry.Error(fmt.Sprintf("%d %v", code, message))
}

func success(c *fiber.Ctx, code int, message string, data interface{}) error {
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(code)
	}
	response := Response{
		Status:  true,
		Code:    code,
		Message: message,
		Data:    data,
	}

	logSuccess(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func failure(c *fiber.Ctx, code int, message string) error {
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(code)
	}
	response := Response{
		Status:  false,
		Code:    code,
		Message: message,
		Error:   message,
	}

	logError(c, response.Code, response.Message)
	return c.Status(response.Code).JSON(response)
}

func ResponseSuccess(c *fiber.Ctx, message string) error {
	return success(c, http.StatusOK, message, nil)
}

func ResponseSuccessWithData(c *fiber.Ctx, message string, data interface{}) error {
	return success(c, http.StatusOK, message, data)
}

func ResponseCreated(c *fiber.Ctx, message string) error {
	return success(c, http.StatusCreated, message, nil)
}

func ResponseCreatedWithData(c *fiber.Ctx, message string, data interface{}) error {
	return success(c, http.StatusCreated, message, data)
}

func ResponseNoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}

func ResponseNotFound(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusNotFound, message)
}

func ResponseUnauthorized(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusUnauthorized, message)
}

func ResponseForbidden(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusForbidden, message)
}

func ResponseBadRequest(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusBadRequest, message)
}

// ResponseConflict is used when the request is valid but the current state
// (e.g. the main balance) does not allow it.
func ResponseConflict(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusConflict, message)
}

func ResponseUnprocessable(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusUnprocessableEntity, message)
}

func ResponseInternalError(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusInternalServerError, message)
}

func ResponseBadGateway(c *fiber.Ctx, message string) error {
	return failure(c, http.StatusBadGateway, message)
}
