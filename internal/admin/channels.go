package admin

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-channel-billing/internal/apierror"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/channel"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/router"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/validation"
)

type CreateChannelRequest struct {
	Name           string `json:"name" form:"name"`
	Phone          string `json:"phone" form:"phone"`
	WhapiChannelID string `json:"whapi_channel_id" form:"whapi_channel_id"`
	WhapiToken     string `json:"whapi_token" form:"whapi_token"`
}

type GrantDaysRequest struct {
	Days      int    `json:"days" form:"days"`
	Source    string `json:"source" form:"source"`
	PaymentID string `json:"payment_id" form:"payment_id"`
	Note      string `json:"note" form:"note"`
	CreatedBy string `json:"created_by" form:"created_by"`
}

// @Summary     Create Channel
// @Description Register a WHAPI channel for a user. It starts PENDING with no days.
// @Tags        Admin Channels
// @Accept      json
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       user_id path string true "User ID"
// @Param       body body CreateChannelRequest true "Channel details"
// @Success     201 {object} router.Response{data=channel.Channel}
// @Failure     400 {object} router.ResError
// @Failure     404 {object} router.ResError
// @Failure     409 {object} router.ResError
// @Router      /admin/users/{user_id}/channels [post]
func (h *Handler) CreateChannel(c *fiber.Ctx) error {
	var req CreateChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if err := validation.ValidateChannelName(req.Name); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	if strings.TrimSpace(req.Phone) != "" {
		if err := validation.ValidatePhone(req.Phone); err != nil {
			return router.ResponseBadRequest(c, err.Error())
		}
	}

	ch, err := h.Channels.Create(c.UserContext(), channel.CreateRequest{
		UserID:         c.Params("user_id"),
		Name:           req.Name,
		Phone:          req.Phone,
		WhapiChannelID: req.WhapiChannelID,
		WhapiToken:     req.WhapiToken,
	})
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseCreatedWithData(c, "Channel created successfully", ch)
}

// @Summary     List Channels
// @Tags        Admin Channels
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       status query string false "PENDING, ACTIVE or PAUSED"
// @Param       user_id query string false "Filter by owner"
// @Param       limit query int false "Page size (max 500)"
// @Param       offset query int false "Offset"
// @Success     200 {object} router.Response{data=[]channel.Channel}
// @Failure     400 {object} router.ResError
// @Router      /admin/channels [get]
func (h *Handler) ListChannels(c *fiber.Ctx) error {
	status := channel.Status(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	if status != "" && !status.Valid() {
		return router.ResponseBadRequest(c, "status must be one of PENDING, ACTIVE, PAUSED")
	}

	channels, err := h.Channels.List(c.UserContext(), channel.ListFilter{
		UserID: c.Query("user_id"),
		Status: status,
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

// @Summary     Get Channel
// @Tags        Admin Channels
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       channel_id path string true "Channel ID"
// @Success     200 {object} router.Response{data=channel.Channel}
// @Failure     404 {object} router.ResError
// @Router      /admin/channels/{channel_id} [get]
func (h *Handler) GetChannel(c *fiber.Ctx) error {
	ch, err := h.Channels.Get(c.UserContext(), c.Params("channel_id"))
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseSuccessWithData(c, "Channel retrieved successfully", ch)
}

// @Summary     Grant Days
// @Description Add days to a channel. ADMIN_MANUAL, PAYPAL and OFFLINE grants are funded by the main balance.
// @Tags        Admin Channels
// @Accept      json
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       channel_id path string true "Channel ID"
// @Param       body body GrantDaysRequest true "Grant details"
// @Success     201 {object} router.Response{data=channel.GrantResult}
// @Failure     400 {object} router.ResError
// @Failure     404 {object} router.ResError
// @Failure     409 {object} router.ResError
// @Failure     422 {object} router.ResError
// @Router      /admin/channels/{channel_id}/days [post]
func (h *Handler) GrantDays(c *fiber.Ctx) error {
	var req GrantDaysRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if err := validation.ValidateDays(req.Days); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	source := channel.SourceAdminManual
	if strings.TrimSpace(req.Source) != "" {
		var err error
		if source, err = channel.ParseSource(req.Source); err != nil {
			return apierror.Respond(c, err)
		}
	}
	if source == channel.SourceAutoExtend {
		return router.ResponseBadRequest(c, "AUTO_EXTEND days are granted by the auto-extend sweep only")
	}

	createdBy := strings.TrimSpace(req.CreatedBy)
	if createdBy == "" {
		createdBy = "admin"
	}

	result, err := h.Channels.Grant(c.UserContext(), channel.GrantRequest{
		ChannelID: c.Params("channel_id"),
		Days:      req.Days,
		Source:    source,
		PaymentID: strings.TrimSpace(req.PaymentID),
		Note:      strings.TrimSpace(req.Note),
		CreatedBy: createdBy,
	})
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseCreatedWithData(c, "Days granted successfully", result)
}

// @Summary     Pause Channel
// @Tags        Admin Channels
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       channel_id path string true "Channel ID"
// @Success     200 {object} router.Response{data=channel.Channel}
// @Failure     404 {object} router.ResError
// @Failure     409 {object} router.ResError
// @Router      /admin/channels/{channel_id}/pause [post]
func (h *Handler) PauseChannel(c *fiber.Ctx) error {
	ch, err := h.Channels.Pause(c.UserContext(), c.Params("channel_id"), "admin")
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseSuccessWithData(c, "Channel paused successfully", ch)
}

// @Summary     Resume Channel
// @Description Reactivate a manually paused channel that still has days left.
// @Tags        Admin Channels
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       channel_id path string true "Channel ID"
// @Success     200 {object} router.Response{data=channel.Channel}
// @Failure     404 {object} router.ResError
// @Failure     409 {object} router.ResError
// @Router      /admin/channels/{channel_id}/resume [post]
func (h *Handler) ResumeChannel(c *fiber.Ctx) error {
	ch, err := h.Channels.Resume(c.UserContext(), c.Params("channel_id"), "admin")
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseSuccessWithData(c, "Channel resumed successfully", ch)
}

// @Summary     Channel Ledger
// @Tags        Admin Channels
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       channel_id path string true "Channel ID"
// @Param       limit query int false "Page size (max 500)"
// @Param       offset query int false "Offset"
// @Success     200 {object} router.Response{data=[]channel.LedgerEntry}
// @Failure     404 {object} router.ResError
// @Router      /admin/channels/{channel_id}/ledger [get]
func (h *Handler) ChannelLedger(c *fiber.Ctx) error {
	entries, err := h.Channels.Ledger(c.UserContext(), c.Params("channel_id"), c.QueryInt("limit", 100), c.QueryInt("offset", 0))
	if err != nil {
		return apierror.Respond(c, err)
	}
	if entries == nil {
		entries = []channel.LedgerEntry{}
	}
	return router.ResponseSuccessWithData(c, "Ledger retrieved successfully", entries)
}
