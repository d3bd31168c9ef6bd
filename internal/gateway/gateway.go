package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pos-sync/internal/logger"
	"pos-sync/internal/models"
)

// DefaultTimeout bounds every backend call; a timeout is classified as a
// retriable failure by the sync engine.
const DefaultTimeout = 10 * time.Second

// Gateway is the only component that talks to the authoritative backend. It
// exposes one typed method per sync event type plus the query surface and the
// change feed subscription. It never retries on its own, retry policy lives in
// the sync engine.
type Gateway struct {
	baseURL     string
	apiKey      string
	feedBrokers []string
	feedTopic   string
	client      *http.Client
	log         *logger.Logger
}

type Config struct {
	BaseURL     string
	APIKey      string
	FeedBrokers []string
	FeedTopic   string
	Timeout     time.Duration
}

func New(cfg Config, log *logger.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		feedBrokers: cfg.FeedBrokers,
		feedTopic:   cfg.FeedTopic,
		client:      &http.Client{Timeout: timeout},
		log:         log,
	}
}

// StockConflict describes one line the backend could not fulfil.
type StockConflict struct {
	ProductID string  `json:"product_id"`
	Requested float64 `json:"requested"`
	Available float64 `json:"available"`
}

// SubmitResult mirrors the backend's order submission response.
type SubmitResult struct {
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Conflicts []StockConflict `json:"conflicts,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// DeliveryResult mirrors the backend's delivery confirmation response.
type DeliveryResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SubmitOrder submits a client-generated order. Idempotency is guaranteed by
// reusing the same client-generated id on replay: the backend answers a
// duplicate submission with DUPLICATE_ORDER, which callers treat as success.
func (g *Gateway) SubmitOrder(ctx context.Context, order models.Order) (*SubmitResult, error) {
	var result SubmitResult
	if err := g.do(ctx, http.MethodPost, "/api/v1/orders", order, &result); err != nil {
		return nil, err
	}
	if !result.Success && result.Error == CodeDuplicateOrder {
		// Replay after a false-negative timeout; the order already exists.
		result.Success = true
		result.Error = ""
	}
	return &result, nil
}

// SetOrderStatus pushes a status transition.
func (g *Gateway) SetOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	body := map[string]string{"status": string(status)}
	path := fmt.Sprintf("/api/v1/orders/%s/status", url.PathEscape(orderID))
	return g.do(ctx, http.MethodPut, path, body, nil)
}

// ConfirmDelivery confirms a staff handover. A not-found marker in the result
// message means the order no longer exists server-side.
func (g *Gateway) ConfirmDelivery(ctx context.Context, orderID, staffID string) (*DeliveryResult, error) {
	body := map[string]string{"staff_id": staffID}
	path := fmt.Sprintf("/api/v1/orders/%s/delivery", url.PathEscape(orderID))
	var result DeliveryResult
	if err := g.do(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResolveDefaultNode returns the tenant's default dispatch node, or "" when
// the venue has none configured.
func (g *Gateway) ResolveDefaultNode(ctx context.Context, tenantID string) (string, error) {
	var result struct {
		NodeID string `json:"node_id"`
	}
	path := "/api/v1/venue/default-node?tenant_id=" + url.QueryEscape(tenantID)
	if err := g.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return "", err
	}
	return result.NodeID, nil
}

// FetchOrder loads one full order with joined line items.
func (g *Gateway) FetchOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	path := "/api/v1/orders/" + url.PathEscape(orderID)
	if err := g.do(ctx, http.MethodGet, path, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FetchActiveOrders loads the tenant's non-archived orders, newest first,
// bounded by limit. Keeping the initial load to active orders is what makes
// the first paint cheap on a fresh terminal.
func (g *Gateway) FetchActiveOrders(ctx context.Context, tenantID string, limit int) ([]models.Order, error) {
	var orders []models.Order
	path := fmt.Sprintf("/api/v1/orders?tenant_id=%s&active=true&limit=%s",
		url.QueryEscape(tenantID), strconv.Itoa(limit))
	if err := g.do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// FetchProducts loads the tenant's catalog snapshot.
func (g *Gateway) FetchProducts(ctx context.Context, tenantID string) ([]models.Product, error) {
	var products []models.Product
	path := "/api/v1/products?tenant_id=" + url.QueryEscape(tenantID)
	if err := g.do(ctx, http.MethodGet, path, nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// FetchClients loads the tenant's registered customers.
func (g *Gateway) FetchClients(ctx context.Context, tenantID string) ([]models.Client, error) {
	var clients []models.Client
	path := "/api/v1/clients?tenant_id=" + url.QueryEscape(tenantID)
	if err := g.do(ctx, http.MethodGet, path, nil, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

// TopologySnapshot is one fetch of the venue read caches.
type TopologySnapshot struct {
	Nodes     []models.VenueNode       `json:"nodes"`
	Zones     []models.VenueZone       `json:"zones"`
	Locations []models.StorageLocation `json:"locations"`
	Inventory []models.InventoryItem   `json:"inventory"`
}

// FetchTopology loads the tenant's venue topology and inventory caches.
func (g *Gateway) FetchTopology(ctx context.Context, tenantID string) (*TopologySnapshot, error) {
	var snapshot TopologySnapshot
	path := "/api/v1/venue/topology?tenant_id=" + url.QueryEscape(tenantID)
	if err := g.do(ctx, http.MethodGet, path, nil, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// do issues one bounded HTTP call and decodes either the result or the
// backend's structured error shape.
func (g *Gateway) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var remote struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&remote)
		if remote.Message == "" {
			remote.Message = http.StatusText(resp.StatusCode)
		}
		return &RemoteError{
			Code:      remote.Error,
			Message:   remote.Message,
			Status:    resp.StatusCode,
			Retriable: resp.StatusCode >= 500,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
