// Package service реализует бизнес-логику сервиса бирмаркет:
// резервирование остатков, открытие платёжных сессий и фиксацию заказов.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/beershop-system/internal/gateway"
	"github.com/mmeshcher/beershop-system/internal/model"
	"github.com/mmeshcher/beershop-system/internal/repository"
	"github.com/mmeshcher/beershop-system/internal/validation"
)

// ErrInsufficientStock возвращается, когда запрошенное количество превышает остаток.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrSessionNotPaid возвращается при попытке зафиксировать заказ по неоплаченной сессии.
	ErrSessionNotPaid = errors.New("payment session is not paid")
	// ErrIdempotencyKeyRequired возвращается, если запрос фиксации заказа пришёл без ключа идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrConsistency возвращается, когда компенсация не смогла полностью откатить
	// частично применённую операцию. Требует ручной сверки.
	ErrConsistency = errors.New("consistency failure, manual reconciliation required")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateBuyer(ctx context.Context, name, email, phoneNumber string) (*model.Buyer, error)
	BuyerExists(ctx context.Context, buyerID string) error
	GetProduct(ctx context.Context, productID string) (*model.ProductAvailability, error)
	GetProductByID(ctx context.Context, productID string) (*model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	DecrementStock(ctx context.Context, productID string, quantity int32) (bool, error)
	IncrementStock(ctx context.Context, productID string, quantity int32) error
	CreateOrder(ctx context.Context, buyerID, idempotencyKey string, items []model.OrderItem) (*model.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, idempotencyKey string) (*model.Order, error)
	AppendOrderToBuyer(ctx context.Context, buyerID, orderID string) error
	AppendOrderToProduct(ctx context.Context, productID, orderID string) error
	VoidOrder(ctx context.Context, orderID string) error
	GetOrderView(ctx context.Context, orderID string) (*model.OrderView, error)
}

// Gateway описывает контракт платёжного шлюза, используемый сервисом.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, items []gateway.SessionItem, successURL, cancelURL string) (string, error)
	RetrieveSession(ctx context.Context, sessionID string) (*gateway.Session, error)
	ListLineItems(ctx context.Context, sessionID string) ([]gateway.SessionItem, error)
}

// Reservation фиксирует, какие остатки были списаны, чтобы последующий сбой
// можно было компенсировать симметричным возвратом.
type Reservation struct {
	Items []model.LineItem
}

// Service содержит бизнес-логику сервиса бирмаркет.
type Service struct {
	repo       Repository
	gw         Gateway
	successURL string
	cancelURL  string
	logger     *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом платёжного шлюза.
func NewService(repo Repository, gw Gateway, successURL, cancelURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:       repo,
		gw:         gw,
		successURL: successURL,
		cancelURL:  cancelURL,
		logger:     logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterBuyer создаёт нового покупателя.
func (s *Service) RegisterBuyer(ctx context.Context, name, email, phoneNumber string) (*model.Buyer, error) {
	if name == "" || email == "" {
		return nil, errors.New("name and email are required")
	}
	return s.repo.CreateBuyer(ctx, name, email, phoneNumber)
}

// ListProducts возвращает товары каталога.
func (s *Service) ListProducts(ctx context.Context) ([]model.Product, error) {
	return s.repo.ListProducts(ctx)
}

// GetProduct возвращает карточку товара.
func (s *Service) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	return s.repo.GetProductByID(ctx, productID)
}

// Reserve атомарно списывает остатки по всем позициям запроса.
// Позиции должны быть предварительно нормализованы. При нехватке остатка по
// любой позиции уже списанные количества возвращаются обратно, и операция не
// оставляет durable-эффекта.
func (s *Service) Reserve(ctx context.Context, items []model.LineItem) (*Reservation, error) {
	reservation := &Reservation{}

	for _, it := range items {
		ok, err := s.repo.DecrementStock(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return nil, s.rollbackReservation(ctx, reservation, err)
		}
		if !ok {
			return nil, s.rollbackReservation(ctx, reservation,
				fmt.Errorf("%w: product %s", ErrInsufficientStock, it.ProductID))
		}
		reservation.Items = append(reservation.Items, it)
	}

	return reservation, nil
}

// Release возвращает списанные резервированием остатки (компенсация).
func (s *Service) Release(ctx context.Context, reservation *Reservation) error {
	if reservation == nil {
		return nil
	}

	var failed []string
	for _, it := range reservation.Items {
		if err := s.repo.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			s.logger.Error("stock release failed",
				zap.String("productID", it.ProductID),
				zap.Int32("quantity", it.Quantity),
				zap.Error(err))
			failed = append(failed, it.ProductID)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%w: stock not restored for products %v", ErrConsistency, failed)
	}
	return nil
}

func (s *Service) rollbackReservation(ctx context.Context, reservation *Reservation, cause error) error {
	if err := s.Release(ctx, reservation); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// CreateCheckoutSession проверяет доступность товаров по снимку остатков,
// строит прайс-манифест и открывает платёжную сессию во внешнем шлюзе.
// Остатки здесь не резервируются: авторитетная проверка выполняется позже,
// при фиксации заказа.
func (s *Service) CreateCheckoutSession(ctx context.Context, items []model.LineItem) (string, error) {
	normalized, err := validation.NormalizeLineItems(items)
	if err != nil {
		return "", err
	}

	manifest := make([]gateway.SessionItem, 0, len(normalized))
	for _, it := range normalized {
		availability, err := s.repo.GetProduct(ctx, it.ProductID)
		if err != nil {
			return "", err
		}

		if availability.Stock < it.Quantity {
			return "", fmt.Errorf("%w: product %q (%s)", ErrInsufficientStock, availability.Name, availability.ID)
		}

		manifest = append(manifest, gateway.SessionItem{
			Description: availability.Name,
			ImageURL:    availability.ImageURL,
			UnitAmount:  availability.PriceCents,
			Quantity:    it.Quantity,
		})
	}

	sessionID, err := s.gw.CreateCheckoutSession(ctx, manifest, s.successURL, s.cancelURL)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	return sessionID, nil
}

// ResolveSession возвращает статус и позиции ранее созданной платёжной сессии.
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (*model.SessionResult, error) {
	session, err := s.gw.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve session: %w", err)
	}

	items, err := s.gw.ListLineItems(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session line items: %w", err)
	}

	result := &model.SessionResult{
		SessionID: session.ID,
		Status:    session.Status,
	}
	for _, it := range items {
		result.Items = append(result.Items, model.SessionLineItem{
			Description: it.Description,
			AmountCents: it.UnitAmount,
			Quantity:    it.Quantity,
		})
	}

	return result, nil
}

func sessionPaid(status string) bool {
	return status == "complete" || status == "paid"
}

// CommitOrder фиксирует покупку: резервирует остатки, сохраняет неизменяемую
// запись заказа и добавляет обратные ссылки в истории покупателя и товаров.
// Либо все эффекты применяются вместе, либо операция откатывается компенсацией.
// Повтор с тем же ключом идемпотентности возвращает ранее созданный заказ;
// второй признак результата истинен для такого повтора.
func (s *Service) CommitOrder(ctx context.Context, buyerID, idempotencyKey, sessionID string, items []model.LineItem) (*model.Order, bool, error) {
	if idempotencyKey == "" {
		return nil, false, ErrIdempotencyKeyRequired
	}

	normalized, err := validation.NormalizeLineItems(items)
	if err != nil {
		return nil, false, err
	}

	if prior, err := s.repo.GetOrderByIdempotencyKey(ctx, idempotencyKey); err == nil {
		return prior, true, nil
	} else if !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, false, err
	}

	if err := s.repo.BuyerExists(ctx, buyerID); err != nil {
		return nil, false, err
	}

	// Платёжно-гейтированный путь: заказ фиксируется только по завершённой сессии.
	if sessionID != "" {
		session, err := s.gw.RetrieveSession(ctx, sessionID)
		if err != nil {
			return nil, false, fmt.Errorf("retrieve session: %w", err)
		}
		if !sessionPaid(session.Status) {
			return nil, false, fmt.Errorf("%w: session %s has status %q", ErrSessionNotPaid, sessionID, session.Status)
		}
	}

	// Снимок цен до резервирования: в позициях заказа фиксируется цена покупки.
	orderItems := make([]model.OrderItem, 0, len(normalized))
	for _, it := range normalized {
		availability, err := s.repo.GetProduct(ctx, it.ProductID)
		if err != nil {
			return nil, false, err
		}
		orderItems = append(orderItems, model.OrderItem{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			UnitPriceCents: availability.PriceCents,
		})
	}

	reservation, err := s.Reserve(ctx, normalized)
	if err != nil {
		return nil, false, err
	}

	order, err := s.repo.CreateOrder(ctx, buyerID, idempotencyKey, orderItems)
	if err != nil {
		if errors.Is(err, repository.ErrOrderExists) {
			// Конкурентный повтор с тем же ключом успел раньше: наше списание
			// лишнее, возвращаем его и отдаём заказ победителя.
			if relErr := s.Release(ctx, reservation); relErr != nil {
				return nil, false, relErr
			}
			prior, getErr := s.repo.GetOrderByIdempotencyKey(ctx, idempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			return prior, true, nil
		}
		return nil, false, s.rollbackReservation(ctx, reservation, err)
	}

	if err := s.appendOrderRefs(ctx, order); err != nil {
		return nil, false, s.compensateOrder(ctx, order, reservation, err)
	}

	return order, false, nil
}

func (s *Service) appendOrderRefs(ctx context.Context, order *model.Order) error {
	if err := s.repo.AppendOrderToBuyer(ctx, order.BuyerID, order.ID); err != nil {
		return fmt.Errorf("append order to buyer: %w", err)
	}
	for _, it := range order.Items {
		if err := s.repo.AppendOrderToProduct(ctx, it.ProductID, order.ID); err != nil {
			return fmt.Errorf("append order to product: %w", err)
		}
	}
	return nil
}

// compensateOrder откатывает частично зафиксированный заказ: возвращает остатки
// и помечает запись заказа аннулированной. Запись не удаляется.
func (s *Service) compensateOrder(ctx context.Context, order *model.Order, reservation *Reservation, cause error) error {
	releaseErr := s.Release(ctx, reservation)
	voidErr := s.repo.VoidOrder(ctx, order.ID)

	if releaseErr != nil || voidErr != nil {
		s.logger.Error("order compensation failed",
			zap.String("orderID", order.ID),
			zap.String("buyerID", order.BuyerID),
			zap.NamedError("cause", cause),
			zap.NamedError("releaseError", releaseErr),
			zap.NamedError("voidError", voidErr))
		return fmt.Errorf("%w: order %s", ErrConsistency, order.ID)
	}

	s.logger.Warn("order rolled back",
		zap.String("orderID", order.ID),
		zap.String("buyerID", order.BuyerID),
		zap.Error(cause))

	return cause
}

// GetOrder возвращает заказ с позициями, развёрнутыми до данных товаров.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*model.OrderView, error) {
	return s.repo.GetOrderView(ctx, orderID)
}
