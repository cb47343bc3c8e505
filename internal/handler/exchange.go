package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/storefront/internal/exchange"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
)

const exchangeReturnEntity = "exchange return"

// CreateExchangeReturn оформляет заявку на обмен или возврат.
func (h *Handler) CreateExchangeReturn(w http.ResponseWriter, r *http.Request) {
	var req exchange.CreateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.exchanges.Create(r.Context(), middleware.ActorFromContext(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, e)
}

// ListExchangeReturns возвращает страницу заявок.
func (h *Handler) ListExchangeReturns(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	orderID, err := uuidFromQuery(r, "orderId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	userID, err := uuidFromQuery(r, "userId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	f := model.ExchangeFilter{
		Status:  model.ExchangeStatus(r.URL.Query().Get("status")),
		UserID:  userID,
		OrderID: orderID,
		Page:    page,
	}
	list, total, err := h.exchanges.List(r.Context(), middleware.ActorFromContext(r.Context()), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newListResponse(list, page, total))
}

// GetExchangeReturn возвращает заявку.
func (h *Handler) GetExchangeReturn(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), exchangeReturnEntity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.exchanges.Get(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, e)
}

// UpdateExchangeStatus меняет статус заявки.
func (h *Handler) UpdateExchangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), exchangeReturnEntity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req exchange.StatusRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.exchanges.UpdateStatus(r.Context(), middleware.ActorFromContext(r.Context()), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, e)
}

// CancelExchangeReturn отменяет заявку по просьбе владельца или администратора.
func (h *Handler) CancelExchangeReturn(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"), exchangeReturnEntity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	e, err := h.exchanges.Cancel(r.Context(), middleware.ActorFromContext(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, e)
}

// ListRefundFailures возвращает неудавшиеся возвраты для ручной сверки.
func (h *Handler) ListRefundFailures(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	list, total, err := h.exchanges.RefundFailures(r.Context(), middleware.ActorFromContext(r.Context()), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newListResponse(list, page, total))
}
