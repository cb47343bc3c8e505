package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/validation"
)

type balanceResponse struct {
	UserID  uuid.UUID `json:"userId"`
	Balance int64     `json:"balance"`
}

// GetPoints возвращает баланс баллов текущего пользователя.
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromContext(r.Context())
	if actor.IsGuest() {
		h.writeError(w, r, errUnauthorized)
		return
	}

	balance, err := h.points.Balance(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{UserID: actor.UserID, Balance: balance})
}

// GetPointHistory возвращает журнал баллов текущего пользователя.
func (h *Handler) GetPointHistory(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromContext(r.Context())
	if actor.IsGuest() {
		h.writeError(w, r, errUnauthorized)
		return
	}

	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, total, err := h.points.History(r.Context(), actor.UserID, page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newListResponse(entries, page, total))
}

type earnRequest struct {
	UserID      uuid.UUID  `json:"userId" validate:"required"`
	Amount      int64      `json:"amount" validate:"gt=0"`
	Description string     `json:"description" validate:"required,max=255"`
	OrderID     *uuid.UUID `json:"orderId,omitempty"`
}

// EarnPoints начисляет баллы пользователю. Доступно администратору.
func (h *Handler) EarnPoints(w http.ResponseWriter, r *http.Request) {
	var req earnRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.points.Earn(r.Context(), req.UserID, req.Amount, req.Description, req.OrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, entry)
}

type useRequest struct {
	Amount      int64      `json:"amount" validate:"gt=0"`
	Description string     `json:"description" validate:"required,max=255"`
	OrderID     *uuid.UUID `json:"orderId,omitempty"`
}

// UsePoints списывает баллы текущего пользователя.
func (h *Handler) UsePoints(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromContext(r.Context())
	if actor.IsGuest() {
		h.writeError(w, r, errUnauthorized)
		return
	}

	var req useRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.points.Use(r.Context(), actor.UserID, req.Amount, req.Description, req.OrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, entry)
}
