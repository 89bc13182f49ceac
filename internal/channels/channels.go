// Package channels serves the channel endpoints of an authenticated user.
package channels

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/gdbrns/go-whatsapp-channel-billing/internal/apierror"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/auth"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/channel"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/router"
)

type Channels interface {
	Get(ctx context.Context, id string) (channel.Channel, error)
	List(ctx context.Context, f channel.ListFilter) ([]channel.Channel, error)
	Ledger(ctx context.Context, channelID string, limit, offset int) ([]channel.LedgerEntry, error)
}

// QRSource returns the raw pairing payload of a channel session.
type QRSource interface {
	LoginQR(ctx context.Context, token string) (string, error)
}

type Handler struct {
	Channels Channels
	QR       QRSource
	// QRSize is the PNG edge in pixels.
	QRSize int
	Now    func() time.Time
}

// owned loads the channel and hides channels of other users behind a 404.
func (h *Handler) owned(c *fiber.Ctx) (channel.Channel, error) {
	ch, err := h.Channels.Get(c.UserContext(), c.Params("channel_id"))
	if err != nil {
		return channel.Channel{}, err
	}
	if ch.UserID != auth.UserID(c) {
		return channel.Channel{}, channel.ErrChannelNotFound
	}
	return ch, nil
}

// @Summary     List My Channels
// @Tags        Channels
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} router.Response{data=[]channel.Channel}
// @Failure     401 {object} router.ResError
// @Router      /channels [get]
func (h *Handler) List(c *fiber.Ctx) error {
	channels, err := h.Channels.List(c.UserContext(), channel.ListFilter{
		UserID: auth.UserID(c),
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return apierror.Respond(c, err)
	}
	if channels == nil {
		channels = []channel.Channel{}
	}
	return router.ResponseSuccessWithData(c, "Channels retrieved successfully", channels)
}

// @Summary     Get My Channel
// @Tags        Channels
// @Produce     json
// @Security    BearerAuth
// @Param       channel_id path string true "Channel ID"
// @Success     200 {object} router.Response{data=channel.Channel}
// @Failure     404 {object} router.ResError
// @Router      /channels/{channel_id} [get]
func (h *Handler) Get(c *fiber.Ctx) error {
	ch, err := h.owned(c)
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseSuccessWithData(c, "Channel retrieved successfully", ch)
}

// @Summary     My Channel Ledger
// @Tags        Channels
// @Produce     json
// @Security    BearerAuth
// @Param       channel_id path string true "Channel ID"
// @Success     200 {object} router.Response{data=[]channel.LedgerEntry}
// @Failure     404 {object} router.ResError
// @Router      /channels/{channel_id}/ledger [get]
func (h *Handler) Ledger(c *fiber.Ctx) error {
	ch, err := h.owned(c)
	if err != nil {
		return apierror.Respond(c, err)
	}
	entries, err := h.Channels.Ledger(c.UserContext(), ch.ID, c.QueryInt("limit", 100), c.QueryInt("offset", 0))
	if err != nil {
		return apierror.Respond(c, err)
	}
	if entries == nil {
		entries = []channel.LedgerEntry{}
	}
	return router.ResponseSuccessWithData(c, "Ledger retrieved successfully", entries)
}

// @Summary     Channel Pairing QR
// @Description PNG QR code to link a WhatsApp account to the channel.
// @Tags        Channels
// @Produce     png
// @Security    BearerAuth
// @Param       channel_id path string true "Channel ID"
// @Success     200 {file} binary
// @Failure     404 {object} router.ResError
// @Failure     409 {object} router.ResError
// @Failure     502 {object} router.ResError
// @Router      /channels/{channel_id}/qr [get]
func (h *Handler) QRCode(c *fiber.Ctx) error {
	ch, err := h.owned(c)
	if err != nil {
		return apierror.Respond(c, err)
	}

	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	if ch.Status != channel.StatusPending && channel.IsExpired(ch.ExpiresAt, now) {
		return apierror.Respond(c, channel.ErrChannelExpired)
	}

	payload, err := h.QR.LoginQR(c.UserContext(), ch.WhapiToken)
	if err != nil {
		return apierror.Respond(c, err)
	}

	size := h.QRSize
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return apierror.Respond(c, err)
	}

	log.Print(c).WithField("channel_id", ch.ID).Info("200 QR code rendered")
	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(fiber.StatusOK).Send(png)
}
