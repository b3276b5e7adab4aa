package transactions

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/budgy/budgy/internal/ledger"
)

// Handler exposes transaction HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a transaction HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type entryResponse struct {
	ID               string          `json:"id"`
	WalletID         string          `json:"wallet_id"`
	Type             string          `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
	Timestamp        time.Time       `json:"timestamp"`
	ResultingBalance decimal.Decimal `json:"resulting_balance"`
}

func toResponse(e ledger.Entry) entryResponse {
	return entryResponse{
		ID:               e.ID,
		WalletID:         e.WalletID,
		Type:             string(e.Direction),
		Amount:           e.Amount,
		Description:      e.Description,
		Timestamp:        e.Timestamp,
		ResultingBalance: e.ResultingBalance,
	}
}

// Create applies a transaction to the wallet in the route.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	direction, err := ledger.ParseDirection(req.Type)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	callerID, _ := c.Locals("user_id").(string)

	entry, err := h.service.Apply(c.UserContext(), ApplyInput{
		WalletID:    c.Params("walletId"),
		CallerID:    callerID,
		Direction:   direction,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(entry))
}

// List returns the wallet's transactions ordered by timestamp.
func (h *Handler) List(c *fiber.Ctx) error {
	callerID, _ := c.Locals("user_id").(string)
	entries, err := h.service.List(c.UserContext(), c.Params("walletId"), callerID)
	if err != nil {
		return mapError(err)
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResponse(e))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Get returns a single transaction by id.
func (h *Handler) Get(c *fiber.Ctx) error {
	callerID, _ := c.Locals("user_id").(string)
	entry, err := h.service.Get(c.UserContext(), c.Params("transactionId"), callerID)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(entry))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrEntryNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrApplyFailed):
		return fiber.NewError(http.StatusInternalServerError, "transaction failed")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
