package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/budgy/budgy/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

type updateRequest struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
	Icon  *string `json:"icon"`
}

type walletResponse struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Color     string          `json:"color"`
	Icon      string          `json:"icon"`
	CreatedAt time.Time       `json:"created_at"`
	Deleted   bool            `json:"deleted"`
}

func toResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		Name:      w.Name,
		Balance:   w.Balance,
		Color:     w.Color,
		Icon:      w.Icon,
		CreatedAt: w.CreatedAt,
		Deleted:   w.Deleted,
	}
}

// Create provisions a wallet for the authenticated owner.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	callerID, _ := c.Locals("user_id").(string)
	w, err := h.service.Create(c.UserContext(), CreateInput{
		OwnerID: callerID,
		Name:    req.Name,
		Color:   req.Color,
		Icon:    req.Icon,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(w))
}

// List returns the caller's wallets.
func (h *Handler) List(c *fiber.Ctx) error {
	callerID, _ := c.Locals("user_id").(string)
	wallets, err := h.service.List(c.UserContext(), callerID)
	if err != nil {
		return mapError(err)
	}
	out := make([]walletResponse, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, toResponse(w))
	}
	return c.Status(http.StatusOK).JSON(out)
}

// Get returns a single wallet owned by the caller.
func (h *Handler) Get(c *fiber.Ctx) error {
	callerID, _ := c.Locals("user_id").(string)
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"), callerID)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}

// Update edits wallet metadata.
func (h *Handler) Update(c *fiber.Ctx) error {
	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	callerID, _ := c.Locals("user_id").(string)
	w, err := h.service.Update(c.UserContext(), c.Params("walletId"), callerID, ledger.MetaUpdate{
		Name:  req.Name,
		Color: req.Color,
		Icon:  req.Icon,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}

// Delete soft-deletes the wallet.
func (h *Handler) Delete(c *fiber.Ctx) error {
	callerID, _ := c.Locals("user_id").(string)
	w, err := h.service.SoftDelete(c.UserContext(), c.Params("walletId"), callerID)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(toResponse(w))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(http.StatusForbidden, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
