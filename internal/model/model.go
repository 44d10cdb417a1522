// Package model содержит доменные сущности сервиса бирмаркет.
package model

import "time"

// Buyer представляет покупателя магазина.
type Buyer struct {
	ID          string
	Name        string
	Email       string
	PhoneNumber string
	CreatedAt   time.Time
}

// Product описывает товар каталога. Цена хранится в центах.
type Product struct {
	ID          string
	Name        string
	Description string
	ImageURL    string
	PriceCents  int64
	Stock       int32
	CreatedAt   time.Time
}

// ProductAvailability содержит снимок цены и остатка товара на момент чтения.
type ProductAvailability struct {
	ID         string
	Name       string
	ImageURL   string
	PriceCents int64
	Stock      int32
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	// OrderStatusCreated — заказ успешно зафиксирован.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusVoided — заказ аннулирован компенсацией после частичного сбоя.
	OrderStatusVoided OrderStatus = "VOIDED"
)

// LineItem описывает позицию запроса: товар и количество.
type LineItem struct {
	ProductID string
	Quantity  int32
}

// OrderItem описывает позицию сохранённого заказа с зафиксированной ценой покупки.
type OrderItem struct {
	ProductID      string
	Quantity       int32
	UnitPriceCents int64
}

// Order описывает неизменяемую запись о покупке.
type Order struct {
	ID             string
	BuyerID        string
	IdempotencyKey string
	Status         OrderStatus
	Items          []OrderItem
	CreatedAt      time.Time
}

// OrderViewItem — позиция заказа с развёрнутыми данными товара.
// UnitPricePaidCents — цена на момент покупки, PriceCents — текущая цена товара.
type OrderViewItem struct {
	ProductID          string
	Name               string
	ImageURL           string
	Quantity           int32
	UnitPricePaidCents int64
	PriceCents         int64
}

// OrderView — заказ с позициями, развёрнутыми до данных товаров.
type OrderView struct {
	ID        string
	BuyerID   string
	Status    OrderStatus
	Items     []OrderViewItem
	CreatedAt time.Time
}

// SessionLineItem описывает позицию платёжной сессии по данным шлюза.
type SessionLineItem struct {
	Description string
	AmountCents int64
	Quantity    int32
}

// SessionResult содержит итог платёжной сессии: статус и позиции со стороны шлюза.
type SessionResult struct {
	SessionID string
	Status    string
	Items     []SessionLineItem
}
