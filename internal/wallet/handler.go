package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletledger/internal/httpx"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/middleware"
)

// Handler exposes wallet HTTP endpoints for the authenticated owner.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"positive_decimal,money"`
}

type transferRequest struct {
	DestinationUser string          `json:"destination_user" validate:"required,uuid"`
	Amount          decimal.Decimal `json:"amount" validate:"positive_decimal,money"`
}

type accountResponse struct {
	AccountID string    `json:"account_id"`
	OwnerID   string    `json:"owner_id"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

type entryResponse struct {
	ID             string    `json:"id"`
	OperationID    string    `json:"operation_id"`
	Kind           string    `json:"kind"`
	Delta          string    `json:"delta"`
	RunningBalance string    `json:"running_balance"`
	CreatedAt      time.Time `json:"created_at"`
}

// Get returns the caller's account.
func (h *Handler) Get(c *fiber.Ctx) error {
	state, err := h.service.Get(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toAccountResponse(state))
}

// Deposit credits the caller's account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req amountRequest
	if err := httpx.ParseBodyAndValidate(c, &req); err != nil {
		return httpx.BadRequest(err)
	}
	state, err := h.service.Deposit(c.UserContext(), middleware.UserID(c), req.Amount)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toAccountResponse(state))
}

// Withdraw debits the caller's account.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req amountRequest
	if err := httpx.ParseBodyAndValidate(c, &req); err != nil {
		return httpx.BadRequest(err)
	}
	state, err := h.service.Withdraw(c.UserContext(), middleware.UserID(c), req.Amount)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toAccountResponse(state))
}

// Transfer moves funds from the caller to destination_user.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := httpx.ParseBodyAndValidate(c, &req); err != nil {
		return httpx.BadRequest(err)
	}
	state, err := h.service.Transfer(c.UserContext(), middleware.UserID(c), req.DestinationUser, req.Amount)
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(toAccountResponse(state))
}

// Transactions lists the caller's history, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return fiber.NewError(http.StatusBadRequest, "limit must not be negative")
	}
	entries, err := h.service.History(c.UserContext(), middleware.UserID(c), limit)
	if err != nil {
		return toHTTPError(c, err)
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:             e.ID,
			OperationID:    e.OperationID,
			Kind:           string(e.Kind),
			Delta:          e.Delta.StringFixed(ledger.Scale),
			RunningBalance: e.RunningBalance.StringFixed(ledger.Scale),
			CreatedAt:      e.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

// Reconcile reports whether the caller's balance matches its history.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	report, err := h.service.Reconcile(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return toHTTPError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id":             report.AccountID.String(),
		"balance":                report.Balance.StringFixed(ledger.Scale),
		"delta_sum":              report.DeltaSum.StringFixed(ledger.Scale),
		"latest_running_balance": report.LatestRunning.StringFixed(ledger.Scale),
		"records":                report.Records,
		"consistent":             report.Consistent,
	})
}

func toAccountResponse(state AccountState) accountResponse {
	return accountResponse{
		AccountID: state.AccountID,
		OwnerID:   state.OwnerID,
		Balance:   state.Balance.StringFixed(ledger.Scale),
		CreatedAt: state.CreatedAt,
	}
}

// toHTTPError maps ledger errors to status codes. Storage failures keep their cause out
// of the response body.
func toHTTPError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusUnprocessableEntity, ledger.ErrInsufficientBalance.Error())
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, ledger.ErrNotFound.Error())
	case errors.Is(err, ledger.ErrAccountExists):
		return fiber.NewError(http.StatusConflict, ledger.ErrAccountExists.Error())
	case ledger.IsRetryable(err):
		c.Set(fiber.HeaderRetryAfter, "1")
		return fiber.NewError(http.StatusServiceUnavailable, "ledger busy, retry the request")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
