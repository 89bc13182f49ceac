package admin

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-channel-billing/internal/apierror"
	"github.com/gdbrns/go-whatsapp-channel-billing/internal/sweep"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/account"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/audit"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/auth"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/balance"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/channel"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/router"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/validation"
)

type Accounts interface {
	CreateUser(ctx context.Context, name, email string) (account.User, error)
	GetUser(ctx context.Context, id string) (account.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]account.User, error)
	UpsertSubscription(ctx context.Context, sub account.Subscription) (account.Subscription, error)
	GetSubscription(ctx context.Context, userID string) (account.Subscription, error)
	Stats(ctx context.Context) (account.Stats, error)
}

type Channels interface {
	Create(ctx context.Context, req channel.CreateRequest) (channel.Channel, error)
	Get(ctx context.Context, id string) (channel.Channel, error)
	List(ctx context.Context, f channel.ListFilter) ([]channel.Channel, error)
	Grant(ctx context.Context, req channel.GrantRequest) (*channel.GrantResult, error)
	Pause(ctx context.Context, id, actor string) (channel.Channel, error)
	Resume(ctx context.Context, id, actor string) (channel.Channel, error)
	Ledger(ctx context.Context, channelID string, limit, offset int) ([]channel.LedgerEntry, error)
}

type ChannelStats interface {
	Stats(ctx context.Context) (channel.Stats, error)
}

type Pool interface {
	Snapshot(ctx context.Context) (balance.Snapshot, error)
	Adjust(ctx context.Context, delta int64, note string) (balance.Transaction, error)
	Transactions(ctx context.Context, limit, offset int) ([]balance.Transaction, error)
}

type AuditLog interface {
	audit.Writer
	List(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

type Sweeps interface {
	RunExpiry(ctx context.Context) (sweep.ExpirySummary, bool)
	RunAutoExtend(ctx context.Context) (sweep.AutoExtendSummary, bool)
}

// Handler serves the /admin endpoints.
type Handler struct {
	Accounts     Accounts
	Channels     Channels
	ChannelStats ChannelStats
	Pool         Pool
	Audit        AuditLog
	Sweeps       Sweeps
}

type CreateUserRequest struct {
	Name  string `json:"name" form:"name"`
	Email string `json:"email" form:"email"`
}

type SubscriptionRequest struct {
	AutoExtendEnabled bool `json:"auto_extend_enabled" form:"auto_extend_enabled"`
	SkipFriday        bool `json:"skip_friday" form:"skip_friday"`
	SkipSaturday      bool `json:"skip_saturday" form:"skip_saturday"`
}

type TokenResponse struct {
	Token     string     `json:"token"`
	UserID    string     `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type StatsResponse struct {
	Users    account.Stats    `json:"users"`
	Channels channel.Stats    `json:"channels"`
	Balance  balance.Snapshot `json:"balance"`
}

// @Summary     Billing Stats
// @Description Users, channels and main balance at a glance (Admin only)
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200 {object} router.Response{data=StatsResponse}
// @Failure     401 {object} router.ResError
// @Failure     500 {object} router.ResError
// @Router      /admin/stats [get]
func (h *Handler) Stats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var resp StatsResponse
	var err error
	if resp.Users, err = h.Accounts.Stats(ctx); err != nil {
		return apierror.Respond(c, err)
	}
	if resp.Channels, err = h.ChannelStats.Stats(ctx); err != nil {
		return apierror.Respond(c, err)
	}
	if resp.Balance, err = h.Pool.Snapshot(ctx); err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseSuccessWithData(c, "Stats retrieved successfully", resp)
}

// @Summary     Create User
// @Description Register a channel owner (Admin only)
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       body body CreateUserRequest true "User details"
// @Success     201 {object} router.Response{data=account.User}
// @Failure     400 {object} router.ResError
// @Failure     409 {object} router.ResError
// @Router      /admin/users [post]
func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if err := validation.ValidateRequired("name", req.Name); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	user, err := h.Accounts.CreateUser(c.UserContext(), req.Name, req.Email)
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseCreatedWithData(c, "User created successfully", user)
}

// @Summary     List Users
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       limit query int false "Page size (max 500)"
// @Param       offset query int false "Offset"
// @Success     200 {object} router.Response{data=[]account.User}
// @Failure     401 {object} router.ResError
// @Router      /admin/users [get]
func (h *Handler) ListUsers(c *fiber.Ctx) error {
	users, err := h.Accounts.ListUsers(c.UserContext(), c.QueryInt("limit", 100), c.QueryInt("offset", 0))
	if err != nil {
		return apierror.Respond(c, err)
	}
	if users == nil {
		users = []account.User{}
	}
	return router.ResponseSuccessWithData(c, "Users retrieved successfully", users)
}

// @Summary     Get User
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       user_id path string true "User ID"
// @Success     200 {object} router.Response{data=account.User}
// @Failure     404 {object} router.ResError
// @Router      /admin/users/{user_id} [get]
func (h *Handler) GetUser(c *fiber.Ctx) error {
	user, err := h.Accounts.GetUser(c.UserContext(), c.Params("user_id"))
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseSuccessWithData(c, "User retrieved successfully", user)
}

// @Summary     Set Subscription
// @Description Create or replace the auto-extend flags of a user (Admin only)
// @Tags        Admin
// @Accept      json
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       user_id path string true "User ID"
// @Param       body body SubscriptionRequest true "Auto-extend flags"
// @Success     200 {object} router.Response{data=account.Subscription}
// @Failure     400 {object} router.ResError
// @Failure     404 {object} router.ResError
// @Router      /admin/users/{user_id}/subscription [put]
func (h *Handler) PutSubscription(c *fiber.Ctx) error {
	var req SubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}

	sub, err := h.Accounts.UpsertSubscription(c.UserContext(), account.Subscription{
		UserID:            c.Params("user_id"),
		AutoExtendEnabled: req.AutoExtendEnabled,
		SkipFriday:        req.SkipFriday,
		SkipSaturday:      req.SkipSaturday,
	})
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseSuccessWithData(c, "Subscription saved successfully", sub)
}

// @Summary     Get Subscription
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       user_id path string true "User ID"
// @Success     200 {object} router.Response{data=account.Subscription}
// @Failure     404 {object} router.ResError
// @Router      /admin/users/{user_id}/subscription [get]
func (h *Handler) GetSubscription(c *fiber.Ctx) error {
	sub, err := h.Accounts.GetSubscription(c.UserContext(), c.Params("user_id"))
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseSuccessWithData(c, "Subscription retrieved successfully", sub)
}

// @Summary     Issue User Token
// @Description Sign a bearer token for the user-facing endpoints (Admin only)
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       user_id path string true "User ID"
// @Success     201 {object} router.Response{data=TokenResponse}
// @Failure     404 {object} router.ResError
// @Router      /admin/users/{user_id}/token [post]
func (h *Handler) IssueToken(c *fiber.Ctx) error {
	user, err := h.Accounts.GetUser(c.UserContext(), c.Params("user_id"))
	if err != nil {
		return apierror.Respond(c, err)
	}

	token, expiresAt, err := auth.GenerateUserToken(user.ID)
	if err != nil {
		return apierror.Respond(c, err)
	}

	resp := TokenResponse{Token: token, UserID: user.ID}
	if !expiresAt.IsZero() {
		resp.ExpiresAt = &expiresAt
	}
	return router.ResponseCreatedWithData(c, "Token issued successfully", resp)
}

// @Summary     List Audit Logs
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       user_id query string false "Filter by user"
// @Param       action query string false "Filter by action"
// @Param       limit query int false "Page size (max 500)"
// @Param       offset query int false "Offset"
// @Success     200 {object} router.Response{data=[]audit.Entry}
// @Router      /admin/audit-logs [get]
func (h *Handler) ListAuditLogs(c *fiber.Ctx) error {
	entries, err := h.Audit.List(c.UserContext(), audit.Filter{
		UserID: c.Query("user_id"),
		Action: audit.Action(strings.ToUpper(strings.TrimSpace(c.Query("action")))),
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return apierror.Respond(c, err)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return router.ResponseSuccessWithData(c, "Audit logs retrieved successfully", entries)
}

// @Summary     Run Expiry Sweep
// @Description Run the hourly expiry sweep now. Joins a run already in progress.
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200 {object} router.Response{data=sweep.ExpirySummary}
// @Router      /admin/sweeps/expiry [post]
func (h *Handler) RunExpirySweep(c *fiber.Ctx) error {
	summary, shared := h.Sweeps.RunExpiry(context.WithoutCancel(c.UserContext()))
	msg := "Expiry sweep completed"
	if shared {
		msg = "Expiry sweep already running, joined its result"
	}
	return router.ResponseSuccessWithData(c, msg, summary)
}

// @Summary     Run Auto-Extend Sweep
// @Description Run the midnight auto-extend sweep now. Joins a run already in progress.
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200 {object} router.Response{data=sweep.AutoExtendSummary}
// @Router      /admin/sweeps/auto-extend [post]
func (h *Handler) RunAutoExtendSweep(c *fiber.Ctx) error {
	summary, shared := h.Sweeps.RunAutoExtend(context.WithoutCancel(c.UserContext()))
	msg := "Auto-extend sweep completed"
	if shared {
		msg = "Auto-extend sweep already running, joined its result"
	}
	return router.ResponseSuccessWithData(c, msg, summary)
}
