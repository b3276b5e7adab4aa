package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/budgy/budgy/internal/transactions"
)

// RegisterTransactionRoutes wires ledger entry endpoints.
func RegisterTransactionRoutes(r fiber.Router, h *transactions.Handler) {
	r.Post("/wallets/:walletId/transactions", h.Create)
	r.Get("/wallets/:walletId/transactions", h.List)
	r.Get("/transactions/:transactionId", h.Get)
}
