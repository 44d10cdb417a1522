// Package gateway предоставляет клиент для внешнего платёжного шлюза.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrUnavailable возвращается, когда шлюз недоступен или отвечает ошибкой сервера.
var (
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrSessionNotFound возвращается, если платёжная сессия не найдена на стороне шлюза.
	ErrSessionNotFound = errors.New("payment session not found")
)

// SessionItem описывает позицию платёжной сессии в формате шлюза.
// Сумма передаётся целым числом в минимальных единицах валюты.
type SessionItem struct {
	Description string `json:"description"`
	ImageURL    string `json:"image_url,omitempty"`
	UnitAmount  int64  `json:"unit_amount"`
	Quantity    int32  `json:"quantity"`
}

// Session описывает платёжную сессию по данным шлюза.
type Session struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
// Создание сессии выполняется без автоматических повторов: повтор несёт риск
// дублирования сессий. Read-only запросы идут через retryablehttp.
type Client struct {
	baseURL      string
	createClient *http.Client
	readClient   *retryablehttp.Client
}

// NewClient создаёт HTTP-клиент для обращения к платёжному шлюзу по указанному адресу.
func NewClient(baseURL string) *Client {
	readClient := retryablehttp.NewClient()
	readClient.RetryMax = 3
	readClient.HTTPClient.Timeout = 5 * time.Second
	readClient.Logger = nil

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		createClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		readClient: readClient,
	}
}

func (c *Client) url(path string) string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base + path
}

type createSessionRequest struct {
	PaymentMethodTypes []string      `json:"payment_method_types"`
	LineItems          []SessionItem `json:"line_items"`
	Mode               string        `json:"mode"`
	SuccessURL         string        `json:"success_url"`
	CancelURL          string        `json:"cancel_url"`
}

// CreateCheckoutSession открывает платёжную сессию и возвращает её идентификатор.
func (c *Client) CreateCheckoutSession(ctx context.Context, items []SessionItem, successURL, cancelURL string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("gateway client not configured")
	}

	body, err := json.Marshal(createSessionRequest{
		PaymentMethodTypes: []string{"card"},
		LineItems:          items,
		Mode:               "payment",
		SuccessURL:         successURL,
		CancelURL:          cancelURL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/checkout/sessions"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.createClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return session.ID, nil
}

// RetrieveSession запрашивает текущее состояние платёжной сессии.
func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	var session Session
	if err := c.getJSON(ctx, "/api/checkout/sessions/"+sessionID, &session); err != nil {
		return nil, err
	}

	return &session, nil
}

// ListLineItems запрашивает позиции ранее созданной платёжной сессии.
func (c *Client) ListLineItems(ctx context.Context, sessionID string) ([]SessionItem, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	var result struct {
		Data []SessionItem `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/checkout/sessions/"+sessionID+"/line_items", &result); err != nil {
		return nil, err
	}

	return result.Data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.readClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
