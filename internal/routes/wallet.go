package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/wallet"
)

// RegisterWalletRoutes wires the caller's wallet endpoints. Mutations run behind the
// idempotency middleware when one is provided.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, idempotency fiber.Handler) {
	group := r.Group("/wallet")
	group.Get("", h.Get)
	group.Get("/transactions", h.Transactions)
	group.Get("/reconcile", h.Reconcile)

	mutations := []fiber.Handler{}
	if idempotency != nil {
		mutations = append(mutations, idempotency)
	}
	group.Post("/deposit", append(mutations, h.Deposit)...)
	group.Post("/withdraw", append(mutations, h.Withdraw)...)
	group.Post("/transfer", append(mutations, h.Transfer)...)
}
