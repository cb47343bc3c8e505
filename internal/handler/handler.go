// Package handler содержит HTTP-обработчики API витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/apperr"
	"github.com/mmeshcher/storefront/internal/exchange"
	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/order"
)

// OrderService - операции над заказами, используемые обработчиками.
type OrderService interface {
	Create(ctx context.Context, actor model.Actor, req order.CreateRequest) (*order.CreateResult, error)
	Get(ctx context.Context, actor model.Actor, ref string, access order.GuestAccess) (*model.Order, error)
	List(ctx context.Context, actor model.Actor, f model.OrderFilter) ([]model.Order, int, error)
	Cancel(ctx context.Context, actor model.Actor, ref string, access order.GuestAccess, reason string) (*model.Order, error)
	Update(ctx context.Context, actor model.Actor, ref string, req order.UpdateRequest) (*model.Order, error)
}

// ExchangeService - операции над заявками на обмен и возврат.
type ExchangeService interface {
	Create(ctx context.Context, actor model.Actor, req exchange.CreateRequest) (*model.ExchangeReturn, error)
	Get(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.ExchangeReturn, error)
	List(ctx context.Context, actor model.Actor, f model.ExchangeFilter) ([]model.ExchangeReturn, int, error)
	Cancel(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.ExchangeReturn, error)
	UpdateStatus(ctx context.Context, actor model.Actor, id uuid.UUID, req exchange.StatusRequest) (*model.ExchangeReturn, error)
	RefundFailures(ctx context.Context, actor model.Actor, page model.Page) ([]model.RefundFailure, int, error)
}

// PointService - операции с баллами лояльности.
type PointService interface {
	Earn(ctx context.Context, userID uuid.UUID, amount int64, description string, orderID *uuid.UUID) (model.PointEntry, error)
	Use(ctx context.Context, userID uuid.UUID, amount int64, description string, orderID *uuid.UUID) (model.PointEntry, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	History(ctx context.Context, userID uuid.UUID, page model.Page) ([]model.PointEntry, int, error)
}

// Handler реализует HTTP-обработчики API витрины.
type Handler struct {
	orders         OrderService
	exchanges      ExchangeService
	points         PointService
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(orders OrderService, exchanges ExchangeService, points PointService, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		orders:         orders,
		exchanges:      exchanges,
		points:         points,
		logger:         logger,
		authMiddleware: auth,
	}
}

var (
	errMalformedJSON = apperr.Validation("malformed JSON body")
	errUnauthorized  = apperr.New(apperr.KindUnauthorized, "unauthorized", "authentication required")
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type listResponse[T any] struct {
	Items      []T        `json:"items"`
	Pagination pagination `json:"pagination"`
}

func newListResponse[T any](items []T, page model.Page, total int) listResponse[T] {
	page = page.Normalize()
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{
		Items: items,
		Pagination: pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      total,
			TotalPages: (total + page.Limit - 1) / page.Limit,
		},
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
	}
	h.writeJSON(w, kind.HTTPStatus(), errorResponse{
		Error: apperr.MessageOf(err),
		Code:  apperr.CodeOf(err),
	})
}

// decodeJSON читает тело запроса. Пустое тело допустимо, если allowEmpty.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return errMalformedJSON.Wrap(err)
	}
	return nil
}

func pageFromQuery(r *http.Request) (model.Page, error) {
	var page model.Page
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, apperr.Validation("page: must be a number")
		}
		page.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return page, apperr.Validation("limit: must be a number")
		}
		page.Limit = n
	}
	return page.Normalize(), nil
}

func uuidFromQuery(r *http.Request, name string) (*uuid.UUID, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperr.Validation("%s: invalid id", name)
	}
	return &id, nil
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.NotFound(what)
	}
	return id, nil
}
