package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletledger/internal/httpx"
	"github.com/congo-pay/walletledger/internal/identity"
	"github.com/congo-pay/walletledger/internal/wallet"
)

type registerRequest struct {
	Username  string `json:"username" validate:"required,max=150"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
	Password  string `json:"password" validate:"required"`
	Password2 string `json:"password2" validate:"required"`
}

// RegisterIdentityRoutes wires identity endpoints and provisions the account on registration.
func RegisterIdentityRoutes(r fiber.Router, ids *identity.Service, wallets *wallet.Service, logger *slog.Logger) {
	r.Post("/identity/register", func(c *fiber.Ctx) error {
		var req registerRequest
		if err := httpx.ParseBodyAndValidate(c, &req); err != nil {
			return httpx.BadRequest(err)
		}
		user, err := ids.Register(c.UserContext(), identity.Registration{
			Username:  req.Username,
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Password:  req.Password,
			Password2: req.Password2,
		})
		switch {
		case errors.Is(err, identity.ErrInvalidRegistration):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrUserExists):
			return fiber.NewError(http.StatusConflict, identity.ErrUserExists.Error())
		case err != nil:
			logger.Error("identity.register failed", slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "registration failed")
		}

		account, err := wallets.Open(c.UserContext(), user.ID)
		if err != nil {
			// without an account the user is unusable, so undo the registration
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if rmErr := ids.Remove(cleanupCtx, user.ID); rmErr != nil {
				logger.Error("identity.register rollback failed", slog.String("user_id", user.ID), slog.Any("error", rmErr))
			}
			logger.Error("identity.register account provisioning failed", slog.String("user_id", user.ID), slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "registration failed")
		}

		logger.Info("identity.register completed",
			slog.String("user_id", user.ID),
			slog.String("username", user.Username),
			slog.String("account_id", account.AccountID),
			slog.Int("status", http.StatusCreated),
		)
		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"user_id":    user.ID,
			"username":   user.Username,
			"email":      user.Email,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"account_id": account.AccountID,
		})
	})
}
