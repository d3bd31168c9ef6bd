package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"pos-sync/internal/gateway"
	"pos-sync/internal/logger"
	"pos-sync/internal/models"
)

var (
	ErrNoItems       = errors.New("order has no items")
	ErrInvalidStatus = errors.New("invalid order status")
	ErrNotFound      = errors.New("order not found")
	ErrOfflineLookup = errors.New("order not cached and terminal is offline")
)

const pickupQRSize = 256

// Store is the slice of the local store the facade needs.
type Store interface {
	SaveOrder(ctx context.Context, order models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	DeleteOrder(ctx context.Context, id string) error
	Enqueue(ctx context.Context, event models.SyncEvent) error
	EventsForOrder(ctx context.Context, orderID string) ([]models.SyncEvent, error)
	UpdateEvent(ctx context.Context, event models.SyncEvent) error
	RemoveEventsForOrder(ctx context.Context, orderID string) error
	ProductsByTenant(ctx context.Context, tenantID string) ([]models.Product, error)
	ClientsByTenant(ctx context.Context, tenantID string) ([]models.Client, error)
}

// Remote is the slice of the gateway used for synchronous round trips.
type Remote interface {
	SubmitOrder(ctx context.Context, order models.Order) (*gateway.SubmitResult, error)
	SetOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error
	ConfirmDelivery(ctx context.Context, orderID, staffID string) (*gateway.DeliveryResult, error)
}

// Network reports connectivity.
type Network interface {
	IsOnline() bool
}

// Syncer is poked after every enqueue so queued work never waits for a timer.
type Syncer interface {
	TriggerFlush()
	Orders() []models.Order
	PendingCount(ctx context.Context) (int, error)
	Refresh(ctx context.Context)
}

// Service is the order-facing API of the terminal. Every write lands in the
// local store first; the queue and the engine take it from there.
type Service struct {
	store    Store
	remote   Remote
	net      Network
	syncer   Syncer
	log      *logger.Logger
	tenantID string
}

func NewService(store Store, remote Remote, net Network, syncer Syncer, log *logger.Logger, tenantID string) *Service {
	return &Service{
		store:    store,
		remote:   remote,
		net:      net,
		syncer:   syncer,
		log:      log,
		tenantID: tenantID,
	}
}

// CreateInput is what the till hands over for a new order.
type CreateInput struct {
	Customer      string              `json:"customer"`
	TableNumber   string              `json:"table_number"`
	Channel       models.OrderChannel `json:"channel"`
	Items         []models.OrderItem  `json:"items"`
	PaymentMethod string              `json:"payment_method"`
	NodeID        string              `json:"node_id"`
}

// CreateOrder registers a new order. Online it submits synchronously so stock
// rejections reach the cashier while the customer is still at the counter;
// any transport failure falls back to the optimistic offline path.
func (s *Service) CreateOrder(ctx context.Context, in CreateInput) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, ErrNoItems
	}

	now := time.Now()
	order := models.Order{
		ID:            uuid.NewString(),
		TenantID:      s.tenantID,
		Customer:      in.Customer,
		TableNumber:   in.TableNumber,
		Channel:       in.Channel,
		Items:         in.Items,
		Total:         orderTotal(in.Items),
		PaymentMethod: in.PaymentMethod,
		Status:        models.StatusPending,
		NodeID:        in.NodeID,
		CreatedAt:     now,
		SyncStatus:    models.SyncPending,
		LastModified:  now.UnixMilli(),
	}
	if order.Channel == "" {
		order.Channel = models.ChannelDineIn
	}
	order.PickupCode = pickupCode(order.ID)

	if s.net.IsOnline() {
		res, err := s.remote.SubmitOrder(ctx, order)
		switch {
		case err == nil && res.Success:
			order.SyncStatus = models.SyncSynced
			if err := s.store.SaveOrder(ctx, order); err != nil {
				return nil, err
			}
			s.log.LogOrder("CREATE", order.ID, "submitted directly")
			s.syncer.Refresh(ctx)
			return &order, nil
		case err == nil && !res.Success:
			// Domain rejection, the order never existed. Queueing it would
			// only produce a flag-then-purge loop later.
			return nil, conflictError(res)
		case !gateway.Retriable(err):
			return nil, err
		}
		// Retriable transport failure: fall through to the offline path.
		s.log.Warn("ORDER", fmt.Sprintf("direct submit of %s failed, queueing: %v", order.ID, err))
	}

	if err := s.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}
	event, err := models.NewCreateOrderEvent(s.tenantID, order)
	if err != nil {
		return nil, err
	}
	if err := s.store.Enqueue(ctx, event); err != nil {
		return nil, err
	}
	s.log.LogOrder("CREATE", order.ID, "queued for sync")
	s.syncer.Refresh(ctx)
	s.syncer.TriggerFlush()
	return &order, nil
}

// UpdateOrderStatus moves an order through its lifecycle. Online it pushes
// the transition synchronously; otherwise, or on a transport failure, it is
// queued, and repeated status changes collapse into the single queued
// mutation: only the latest intended status is worth sending.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	if !models.ValidStatus(status) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}

	order.Status = status
	order.SyncStatus = models.SyncPending
	order.Touch()

	if s.net.IsOnline() {
		err := s.remote.SetOrderStatus(ctx, orderID, status)
		switch {
		case err == nil:
			order.SyncStatus = models.SyncSynced
			if err := s.store.SaveOrder(ctx, *order); err != nil {
				return nil, err
			}
			s.log.LogOrder("STATUS", orderID, string(status)+" pushed directly")
			s.syncer.Refresh(ctx)
			return order, nil
		case !gateway.Retriable(err):
			return nil, err
		}
		// Retriable transport failure: fall through to the queued path.
		s.log.Warn("ORDER", fmt.Sprintf("direct status push of %s failed, queueing: %v", orderID, err))
	}

	if err := s.store.SaveOrder(ctx, *order); err != nil {
		return nil, err
	}
	if err := s.enqueueStatus(ctx, orderID, status); err != nil {
		return nil, err
	}
	s.log.LogOrder("STATUS", orderID, string(status)+" queued for sync")
	s.syncer.Refresh(ctx)
	s.syncer.TriggerFlush()
	return order, nil
}

// enqueueStatus replaces an already queued status change for the same order
// instead of stacking a second one behind it.
func (s *Service) enqueueStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	events, err := s.store.EventsForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.Type != models.EventUpdateStatus || ev.Terminal {
			continue
		}
		replacement, err := models.NewUpdateStatusEvent(s.tenantID, orderID, status)
		if err != nil {
			return err
		}
		ev.Payload = replacement.Payload
		ev.RetryCount = 0
		ev.LastError = ""
		return s.store.UpdateEvent(ctx, ev)
	}

	event, err := models.NewUpdateStatusEvent(s.tenantID, orderID, status)
	if err != nil {
		return err
	}
	return s.store.Enqueue(ctx, event)
}

// ConfirmDelivery hands an order over at pickup. Online it is a synchronous
// round trip so the staff member scanning gets a definitive answer; offline
// the confirmation is queued against the cached copy.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, staffID string) (*gateway.DeliveryResult, error) {
	local, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if s.net.IsOnline() {
		res, err := s.remote.ConfirmDelivery(ctx, orderID, staffID)
		if err == nil {
			if res.Success {
				if local != nil {
					local.Status = models.StatusDelivered
					local.SyncStatus = models.SyncSynced
					local.Touch()
					if err := s.store.SaveOrder(ctx, *local); err != nil {
						return nil, err
					}
				}
				s.log.LogOrder("DELIVERY", orderID, "confirmed")
			} else if gateway.IsNotFoundMessage(res.Message) {
				// Stale cache entry: the server no longer knows this order.
				if derr := s.store.DeleteOrder(ctx, orderID); derr != nil {
					s.log.Error("ORDER", fmt.Sprintf("cleanup %s: %v", orderID, derr))
				}
				if derr := s.store.RemoveEventsForOrder(ctx, orderID); derr != nil {
					s.log.Error("ORDER", fmt.Sprintf("cleanup events for %s: %v", orderID, derr))
				}
			}
			s.syncer.Refresh(ctx)
			return res, nil
		}
		if !gateway.Retriable(err) {
			return nil, err
		}
		s.log.Warn("ORDER", fmt.Sprintf("direct delivery confirm of %s failed, queueing: %v", orderID, err))
	}

	if local == nil {
		return nil, ErrOfflineLookup
	}

	local.Status = models.StatusDelivered
	local.SyncStatus = models.SyncPending
	local.Touch()
	if err := s.store.SaveOrder(ctx, *local); err != nil {
		return nil, err
	}
	event, err := models.NewConfirmDeliveryEvent(s.tenantID, orderID, staffID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Enqueue(ctx, event); err != nil {
		return nil, err
	}
	s.log.LogOrder("DELIVERY", orderID, "queued for sync")
	s.syncer.Refresh(ctx)
	s.syncer.TriggerFlush()
	return &gateway.DeliveryResult{Success: true, Message: "delivery queued"}, nil
}

// Order returns one cached order.
func (s *Service) Order(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}
	return order, nil
}

// Refresh reloads the derived order view from the local store.
func (s *Service) Refresh(ctx context.Context) {
	s.syncer.Refresh(ctx)
}

// Orders returns the engine's derived order list, newest first.
func (s *Service) Orders() []models.Order {
	return s.syncer.Orders()
}

// Products returns the cached catalog.
func (s *Service) Products(ctx context.Context) ([]models.Product, error) {
	return s.store.ProductsByTenant(ctx, s.tenantID)
}

// Clients returns the cached customer list.
func (s *Service) Clients(ctx context.Context) ([]models.Client, error) {
	return s.store.ClientsByTenant(ctx, s.tenantID)
}

// PendingCount reports how many mutations wait in the queue.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	return s.syncer.PendingCount(ctx)
}

// PickupQR renders the pickup code of an order as a PNG, for the counter
// display. Scanning it at handover drives ConfirmDelivery.
func (s *Service) PickupQR(ctx context.Context, orderID string) ([]byte, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}
	content := order.PickupCode
	if content == "" {
		content = order.ID
	}
	png, err := qrcode.Encode(content, qrcode.Medium, pickupQRSize)
	if err != nil {
		return nil, fmt.Errorf("encode pickup QR: %w", err)
	}
	return png, nil
}

func orderTotal(items []models.OrderItem) float64 {
	var total float64
	for _, it := range items {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		total += it.UnitPrice * float64(qty)
	}
	return total
}

func pickupCode(orderID string) string {
	code := strings.ReplaceAll(orderID, "-", "")
	if len(code) > 8 {
		code = code[:8]
	}
	return strings.ToUpper(code)
}

func conflictError(res *gateway.SubmitResult) error {
	message := res.Message
	if message == "" {
		message = res.Error
	}
	if len(res.Conflicts) > 0 {
		names := make([]string, 0, len(res.Conflicts))
		for _, c := range res.Conflicts {
			names = append(names, c.ProductID)
		}
		message = fmt.Sprintf("%s: %s", message, strings.Join(names, ", "))
	}
	return &gateway.RemoteError{Code: res.Error, Message: message}
}
