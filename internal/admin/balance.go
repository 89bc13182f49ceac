package admin

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-channel-billing/internal/apierror"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/audit"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/balance"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/log"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/router"
	"github.com/gdbrns/go-whatsapp-channel-billing/pkg/validation"
)

type AdjustBalanceRequest struct {
	// Delta is signed: positive tops up, negative corrects downwards.
	Delta int64  `json:"delta" form:"delta"`
	Note  string `json:"note" form:"note"`
}

// @Summary     Get Main Balance
// @Tags        Admin Balance
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200 {object} router.Response{data=balance.Snapshot}
// @Router      /admin/balance [get]
func (h *Handler) GetBalance(c *fiber.Ctx) error {
	snap, err := h.Pool.Snapshot(c.UserContext())
	if err != nil {
		return apierror.Respond(c, err)
	}
	return router.ResponseSuccessWithData(c, "Balance retrieved successfully", snap)
}

// @Summary     Adjust Main Balance
// @Description Apply a signed correction to the pool. It never goes below zero.
// @Tags        Admin Balance
// @Accept      json
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       body body AdjustBalanceRequest true "Adjustment"
// @Success     201 {object} router.Response{data=balance.Transaction}
// @Failure     400 {object} router.ResError
// @Failure     409 {object} router.ResError
// @Router      /admin/balance/adjust [post]
func (h *Handler) AdjustBalance(c *fiber.Ctx) error {
	var req AdjustBalanceRequest
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Invalid request body")
	}
	if req.Delta == 0 {
		return router.ResponseBadRequest(c, "delta must be a non-zero integer")
	}
	if err := validation.ValidateRequired("note", req.Note); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}
	note := strings.TrimSpace(req.Note)

	tx, err := h.Pool.Adjust(c.UserContext(), req.Delta, note)
	if err != nil {
		return apierror.Respond(c, err)
	}

	err = h.Audit.Write(c.UserContext(), audit.Entry{
		Action:     audit.ActionBalanceAdjusted,
		EntityType: "balance",
		EntityID:   balance.MainPoolID,
		Meta: map[string]interface{}{
			"delta":          tx.Delta,
			"balance_after":  tx.BalanceAfter,
			"transaction_id": tx.ID,
			"note":           note,
		},
	})
	if err != nil {
		log.Print(c).Error("Failed to audit balance adjustment: " + err.Error())
	}
	return router.ResponseCreatedWithData(c, "Balance adjusted successfully", tx)
}

// @Summary     List Balance Transactions
// @Tags        Admin Balance
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       limit query int false "Page size (max 500)"
// @Param       offset query int false "Offset"
// @Success     200 {object} router.Response{data=[]balance.Transaction}
// @Router      /admin/balance/transactions [get]
func (h *Handler) ListTransactions(c *fiber.Ctx) error {
	txs, err := h.Pool.Transactions(c.UserContext(), c.QueryInt("limit", 100), c.QueryInt("offset", 0))
	if err != nil {
		return apierror.Respond(c, err)
	}
	if txs == nil {
		txs = []balance.Transaction{}
	}
	return router.ResponseSuccessWithData(c, "Transactions retrieved successfully", txs)
}
