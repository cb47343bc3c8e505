package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/order"
)

// CreateOrder оформляет заказ покупателя или гостя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.orders.Create(r.Context(), middleware.ActorFromContext(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, res)
}

// ListOrders возвращает страницу заказов.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := uuidFromQuery(r, "userId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	f := model.OrderFilter{
		Status: model.OrderStatus(r.URL.Query().Get("status")),
		UserID: userID,
		Page:   page,
	}
	orders, total, err := h.orders.List(r.Context(), middleware.ActorFromContext(r.Context()), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newListResponse(orders, page, total))
}

// GetOrder возвращает заказ по идентификатору или номеру.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "ref"), guestAccess(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, o)
}

// UpdateOrder применяет административные изменения заказа.
func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.UpdateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	o, err := h.orders.Update(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "ref"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, o)
}

type cancelRequest struct {
	Reason string `json:"reason"`
	Token  string `json:"token"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

// CancelOrder отменяет заказ и возвращает товар на склад.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeError(w, r, err)
		return
	}

	access := guestAccess(r)
	if req.Token != "" || req.Email != "" || req.Phone != "" {
		access = order.GuestAccess{Token: req.Token, Email: req.Email, Phone: req.Phone}
	}

	o, err := h.orders.Cancel(r.Context(), middleware.ActorFromContext(r.Context()), chi.URLParam(r, "ref"), access, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, o)
}

func guestAccess(r *http.Request) order.GuestAccess {
	q := r.URL.Query()
	return order.GuestAccess{
		Token: q.Get("token"),
		Email: q.Get("email"),
		Phone: q.Get("phone"),
	}
}
