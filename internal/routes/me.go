package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/ledger"
	"github.com/congo-pay/walletledger/internal/middleware"
	"github.com/congo-pay/walletledger/internal/wallet"
)

// RegisterMeRoutes exposes the caller's profile and account removal.
func RegisterMeRoutes(r fiber.Router, ids *identity.Service, wallets *wallet.Service, logger *slog.Logger) {
	r.Get("/me", func(c *fiber.Ctx) error {
		uid := middleware.UserID(c)
		user, err := ids.Get(c.UserContext(), uid)
		if err != nil {
			return fiber.NewError(http.StatusNotFound, "user not found")
		}
		profile := fiber.Map{
			"user": fiber.Map{
				"id":            user.ID,
				"username":      user.Username,
				"email":         user.Email,
				"first_name":    user.FirstName,
				"last_name":     user.LastName,
				"token_version": user.TokenVersion,
				"created_at":    user.CreatedAt,
				"last_login":    user.LastLogin,
			},
		}
		if account, err := wallets.Get(c.UserContext(), uid); err == nil {
			profile["wallet"] = fiber.Map{
				"account_id": account.AccountID,
				"balance":    account.Balance.StringFixed(ledger.Scale),
				"created_at": account.CreatedAt,
			}
		}
		return c.Status(http.StatusOK).JSON(profile)
	})

	// Removing an identity keeps its account and history; only the owner link is cleared.
	r.Delete("/me", func(c *fiber.Ctx) error {
		uid := middleware.UserID(c)
		if err := wallets.Close(c.UserContext(), uid); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			logger.Error("detach account failed", slog.String("user_id", uid), slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "remove user failed")
		}
		if err := ids.Remove(c.UserContext(), uid); err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				return fiber.NewError(http.StatusNotFound, "user not found")
			}
			logger.Error("remove user failed", slog.String("user_id", uid), slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "remove user failed")
		}
		logger.Info("identity removed", slog.String("user_id", uid))
		return c.SendStatus(http.StatusNoContent)
	})
}
