// Package handler содержит HTTP-обработчики API сервиса бирмаркет.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/beershop-system/internal/gateway"
	"github.com/mmeshcher/beershop-system/internal/model"
	"github.com/mmeshcher/beershop-system/internal/repository"
	"github.com/mmeshcher/beershop-system/internal/service"
	"github.com/mmeshcher/beershop-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterBuyer(ctx context.Context, name, email, phoneNumber string) (*model.Buyer, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	CreateCheckoutSession(ctx context.Context, items []model.LineItem) (string, error)
	ResolveSession(ctx context.Context, sessionID string) (*model.SessionResult, error)
	CommitOrder(ctx context.Context, buyerID, idempotencyKey, sessionID string, items []model.LineItem) (*model.Order, bool, error)
	GetOrder(ctx context.Context, orderID string) (*model.OrderView, error)
}

// Handler реализует HTTP-обработчики API сервиса бирмаркет.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type lineItemRequest struct {
	ProductID string `json:"productId"`
	Qtt       int32  `json:"qtt"`
}

func toLineItems(items []lineItemRequest) []model.LineItem {
	res := make([]model.LineItem, 0, len(items))
	for _, it := range items {
		res = append(res, model.LineItem{ProductID: it.ProductID, Quantity: it.Qtt})
	}
	return res
}

type signupRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
}

type buyerResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phoneNumber"`
	CreatedAt   string `json:"createdAt"`
}

// Signup обрабатывает регистрацию нового покупателя.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Email == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	buyer, err := h.service.RegisterBuyer(r.Context(), req.Name, req.Email, req.PhoneNumber)
	if err != nil {
		if errors.Is(err, repository.ErrBuyerExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("signup error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, buyerResponse{
		ID:          buyer.ID,
		Name:        buyer.Name,
		Email:       buyer.Email,
		PhoneNumber: buyer.PhoneNumber,
		CreatedAt:   buyer.CreatedAt.Format(time.RFC3339),
	})
}

type productResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	ImageURL    string  `json:"imageUrl"`
	Price       float64 `json:"price"`
	Stock       int32   `json:"qttInStock"`
}

func toProductResponse(p model.Product) productResponse {
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		Price:       float64(p.PriceCents) / 100,
		Stock:       p.Stock,
	}
}

// ListProducts возвращает товары каталога.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("list products error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductResponse(p))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetProduct возвращает карточку товара по идентификатору из URL.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	product, err := h.service.GetProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get product error", zap.Error(err), zap.String("productID", productID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toProductResponse(*product))
}

type checkoutSessionRequest struct {
	Products []lineItemRequest `json:"products"`
}

type checkoutSessionResponse struct {
	ID string `json:"id"`
}

// CreateCheckoutSession открывает платёжную сессию по снимку цен и остатков.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sessionID, err := h.service.CreateCheckoutSession(r.Context(), toLineItems(req.Products))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientStock):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, repository.ErrProductNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, gateway.ErrUnavailable):
			h.logger.Error("checkout session gateway error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		case errors.Is(err, validation.ErrInvalidItems):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("create checkout session error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, checkoutSessionResponse{ID: sessionID})
}

type sessionLineItemResponse struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Qtt         int32   `json:"qtt"`
}

type sessionResultResponse struct {
	ID        string                    `json:"id"`
	Status    string                    `json:"status"`
	LineItems []sessionLineItemResponse `json:"lineItems"`
}

// OrderSuccess подтверждает итог платёжной сессии после возврата покупателя из шлюза.
func (h *Handler) OrderSuccess(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	result, err := h.service.ResolveSession(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrSessionNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, gateway.ErrUnavailable):
			h.logger.Error("resolve session gateway error", zap.Error(err), zap.String("sessionID", sessionID))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		default:
			h.logger.Error("resolve session error", zap.Error(err), zap.String("sessionID", sessionID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	resp := sessionResultResponse{
		ID:        result.SessionID,
		Status:    result.Status,
		LineItems: make([]sessionLineItemResponse, 0, len(result.Items)),
	}
	for _, it := range result.Items {
		resp.LineItems = append(resp.LineItems, sessionLineItemResponse{
			Description: it.Description,
			Amount:      float64(it.AmountCents) / 100,
			Qtt:         it.Quantity,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type transactionRequest struct {
	BuyerID        string            `json:"buyerId"`
	SessionID      string            `json:"sessionId,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Products       []lineItemRequest `json:"products"`
}

type orderItemResponse struct {
	ProductID     string  `json:"productId"`
	Qtt           int32   `json:"qtt"`
	UnitPricePaid float64 `json:"unitPricePaid"`
}

type orderResponse struct {
	ID        string              `json:"id"`
	BuyerID   string              `json:"buyerId"`
	Status    string              `json:"status"`
	Products  []orderItemResponse `json:"products"`
	Timestamp string              `json:"timestamp"`
}

// CreateTransaction фиксирует покупку. Ключ идемпотентности берётся из заголовка
// Idempotency-Key либо из тела запроса; повтор с известным ключом возвращает
// ранее созданный заказ со статусом 200.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.BuyerID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		idempotencyKey = req.IdempotencyKey
	}

	order, replayed, err := h.service.CommitOrder(r.Context(), req.BuyerID, idempotencyKey, req.SessionID, toLineItems(req.Products))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrIdempotencyKeyRequired):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, service.ErrInsufficientStock):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, repository.ErrBuyerNotFound), errors.Is(err, repository.ErrProductNotFound),
			errors.Is(err, gateway.ErrSessionNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrSessionNotPaid):
			http.Error(w, err.Error(), http.StatusPaymentRequired)
		case errors.Is(err, gateway.ErrUnavailable):
			h.logger.Error("commit order gateway error", zap.Error(err), zap.String("buyerID", req.BuyerID))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		case errors.Is(err, service.ErrConsistency):
			h.logger.Error("commit order consistency failure", zap.Error(err), zap.String("buyerID", req.BuyerID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		case errors.Is(err, validation.ErrInvalidItems):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("commit order error", zap.Error(err), zap.String("buyerID", req.BuyerID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	resp := orderResponse{
		ID:        order.ID,
		BuyerID:   order.BuyerID,
		Status:    string(order.Status),
		Products:  make([]orderItemResponse, 0, len(order.Items)),
		Timestamp: order.CreatedAt.Format(time.RFC3339),
	}
	for _, it := range order.Items {
		resp.Products = append(resp.Products, orderItemResponse{
			ProductID:     it.ProductID,
			Qtt:           it.Quantity,
			UnitPricePaid: float64(it.UnitPriceCents) / 100,
		})
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	h.writeJSON(w, status, resp)
}

type orderViewItemResponse struct {
	ProductID     string  `json:"productId"`
	Name          string  `json:"name"`
	ImageURL      string  `json:"imageUrl"`
	Qtt           int32   `json:"qtt"`
	UnitPricePaid float64 `json:"unitPricePaid"`
	Price         float64 `json:"price"`
}

type orderViewResponse struct {
	ID        string                  `json:"id"`
	BuyerID   string                  `json:"buyerId"`
	Status    string                  `json:"status"`
	Products  []orderViewItemResponse `json:"products"`
	Timestamp string                  `json:"timestamp"`
}

// GetTransaction возвращает заказ с развёрнутыми данными товаров.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	view, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get transaction error", zap.Error(err), zap.String("orderID", orderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := orderViewResponse{
		ID:        view.ID,
		BuyerID:   view.BuyerID,
		Status:    string(view.Status),
		Products:  make([]orderViewItemResponse, 0, len(view.Items)),
		Timestamp: view.CreatedAt.Format(time.RFC3339),
	}
	for _, it := range view.Items {
		resp.Products = append(resp.Products, orderViewItemResponse{
			ProductID:     it.ProductID,
			Name:          it.Name,
			ImageURL:      it.ImageURL,
			Qtt:           it.Quantity,
			UnitPricePaid: float64(it.UnitPricePaidCents) / 100,
			Price:         float64(it.PriceCents) / 100,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
