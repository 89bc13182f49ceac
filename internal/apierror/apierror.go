// Package apierror maps billing errors onto the router response envelope.
package apierror

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-channel-billing/internal/webhook"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/account"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/balance"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/channel"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/router"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/whapi"
)

// Status returns the HTTP status for err.
func Status(err error) int {
	var apiErr *whapi.APIError
	switch {
	case errors.Is(err, channel.ErrChannelNotFound),
		errors.Is(err, channel.ErrOwnerNotFound),
		errors.Is(err, account.ErrUserNotFound),
		errors.Is(err, account.ErrSubscriptionNotFound),
		errors.Is(err, webhook.ErrWebhookNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, channel.ErrInvalidDays),
		errors.Is(err, channel.ErrInvalidSource),
		errors.Is(err, balance.ErrInvalidAmount),
		errors.Is(err, webhook.ErrInvalidURL),
		errors.Is(err, webhook.ErrInvalidEvent):
		return fiber.StatusBadRequest
	case errors.Is(err, balance.ErrInsufficientBalance),
		errors.Is(err, balance.ErrConcurrentUpdate),
		errors.Is(err, channel.ErrDuplicateChannel),
		errors.Is(err, channel.ErrInvalidTransition),
		errors.Is(err, channel.ErrChannelExpired),
		errors.Is(err, account.ErrDuplicateEmail):
		return fiber.StatusConflict
	case errors.Is(err, channel.ErrExceedsCap):
		return fiber.StatusUnprocessableEntity
	case errors.As(err, &apiErr),
		errors.Is(err, whapi.ErrMissingToken),
		errors.Is(err, whapi.ErrNotConfigured):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// Respond writes err with the matching status. Internal errors are logged and
// answered with a generic message.
func Respond(c *fiber.Ctx, err error) error {
	switch Status(err) {
	case fiber.StatusNotFound:
		return router.ResponseNotFound(c, err.Error())
	case fiber.StatusBadRequest:
		return router.ResponseBadRequest(c, err.Error())
	case fiber.StatusConflict:
		return router.ResponseConflict(c, err.Error())
	case fiber.StatusUnprocessableEntity:
		return router.ResponseUnprocessable(c, err.Error())
	case fiber.StatusBadGateway:
		log.Print(c).Warn("Upstream WHAPI error: " + err.Error())
		return router.ResponseBadGateway(c, "WHAPI request failed: "+err.Error())
	}
	log.Print(c).Error("Internal error: " + err.Error())
	return router.ResponseInternalError(c, "internal server error")
}
