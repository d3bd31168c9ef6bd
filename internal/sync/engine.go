package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"pos-sync/internal/gateway"
	"pos-sync/internal/logger"
	"pos-sync/internal/models"
	"pos-sync/internal/netmon"
	"pos-sync/internal/notify"
)

const (
	// DefaultMaxRetries is the forced-purge threshold: an event that failed
	// this many times is removed unconditionally so a poisoned mutation can
	// never block the queue.
	DefaultMaxRetries = 5

	baseBackoff    = 5 * time.Second
	maxBackoff     = 60 * time.Second
	onlineDebounce = 2 * time.Second

	defaultFlushInterval = 30 * time.Second

	// activeOrderFetchLimit caps the initial remote load on a fresh terminal.
	activeOrderFetchLimit = 50
)

// Store is the slice of the local durable store the engine depends on.
type Store interface {
	SaveOrder(ctx context.Context, order models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	OrdersByTenant(ctx context.Context, tenantID string) ([]models.Order, error)
	DeleteOrder(ctx context.Context, id string) error

	Queue(ctx context.Context, tenantID string) ([]models.SyncEvent, error)
	UpdateEvent(ctx context.Context, event models.SyncEvent) error
	RemoveEvent(ctx context.Context, id string) error
	EventsForOrder(ctx context.Context, orderID string) ([]models.SyncEvent, error)
	RemoveEventsForOrder(ctx context.Context, orderID string) error

	ReplaceProducts(ctx context.Context, tenantID string, products []models.Product) error
	ReplaceClients(ctx context.Context, tenantID string, clients []models.Client) error
	ReplaceVenueNodes(ctx context.Context, tenantID string, nodes []models.VenueNode) error
	ReplaceVenueZones(ctx context.Context, tenantID string, zones []models.VenueZone) error
	ReplaceStorageLocations(ctx context.Context, tenantID string, locations []models.StorageLocation) error
	ReplaceInventoryItems(ctx context.Context, tenantID string, items []models.InventoryItem) error
	DefaultVenueNode(ctx context.Context, tenantID string) (*models.VenueNode, error)
	SaveVenueNode(ctx context.Context, node models.VenueNode) error

	PurgeForeignTenant(ctx context.Context, tenantID string) error
}

// Gateway is the remote surface the engine dispatches queued mutations to.
type Gateway interface {
	SubmitOrder(ctx context.Context, order models.Order) (*gateway.SubmitResult, error)
	SetOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error
	ConfirmDelivery(ctx context.Context, orderID, staffID string) (*gateway.DeliveryResult, error)
	ResolveDefaultNode(ctx context.Context, tenantID string) (string, error)
	FetchOrder(ctx context.Context, orderID string) (*models.Order, error)
	FetchActiveOrders(ctx context.Context, tenantID string, limit int) ([]models.Order, error)
	FetchProducts(ctx context.Context, tenantID string) ([]models.Product, error)
	FetchClients(ctx context.Context, tenantID string) ([]models.Client, error)
	FetchTopology(ctx context.Context, tenantID string) (*gateway.TopologySnapshot, error)
	SubscribeChanges(ctx context.Context, tenantID string) (gateway.ChangeStream, error)
}

// Network is the connectivity signal.
type Network interface {
	IsOnline() bool
	Subscribe(ctx context.Context) <-chan netmon.Transition
}

// Notifier receives the user-facing sync notifications.
type Notifier interface {
	Emit(n notify.Notification)
}

// Config holds the per-tenant-session parameters of the engine.
type Config struct {
	TenantID       string
	MaxRetries     int
	FlushInterval  time.Duration
	OnlineDebounce time.Duration
}

// Engine owns the mutation queue. It decides when to flush, applies the
// retry/backoff policy, purges permanently failing mutations and merges
// inbound change feed events into the local store. One engine exists per
// tenant session; it is created on login and torn down on tenant switch.
type Engine struct {
	store    Store
	gw       Gateway
	net      Network
	notifier Notifier
	log      *logger.Logger

	tenantID       string
	maxRetries     int
	flushInterval  time.Duration
	onlineDebounce time.Duration

	mu         stdsync.Mutex
	flushing   bool
	followUp   bool
	failStreak int
	paused     bool
	timer      *time.Timer

	viewMu stdsync.RWMutex
	view   []models.Order

	runCtx context.Context
	cancel context.CancelFunc
	sub    gateway.ChangeStream
}

func New(cfg Config, store Store, gw Gateway, net Network, notifier Notifier, log *logger.Logger) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.OnlineDebounce <= 0 {
		cfg.OnlineDebounce = onlineDebounce
	}
	return &Engine{
		store:          store,
		gw:             gw,
		net:            net,
		notifier:       notifier,
		log:            log,
		tenantID:       cfg.TenantID,
		maxRetries:     cfg.MaxRetries,
		flushInterval:  cfg.FlushInterval,
		onlineDebounce: cfg.OnlineDebounce,
		runCtx:         context.Background(),
	}
}

// Start enforces tenant isolation, performs the hybrid initial load, opens the
// change feed subscription and launches the background flush triggers.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancel = cancel

	// Re-filter the cache before anything renders: rows written under another
	// tenant must never become visible, not even transiently.
	if err := e.store.PurgeForeignTenant(runCtx, e.tenantID); err != nil {
		cancel()
		return fmt.Errorf("tenant purge: %w", err)
	}

	e.refreshView(runCtx)

	if e.net.IsOnline() {
		e.hybridLoad(runCtx)
	}

	sub, err := e.gw.SubscribeChanges(runCtx, e.tenantID)
	if err != nil {
		// The feed is push-only enrichment; the queue still syncs without it.
		e.log.Warn("SYNC", fmt.Sprintf("change feed unavailable: %v", err))
	} else {
		e.sub = sub
		go e.feedLoop(runCtx, sub)
	}

	// Subscribe before returning so a transition right after startup is
	// never missed.
	transitions := e.net.Subscribe(runCtx)
	go e.watchNetwork(runCtx, transitions)
	go e.periodicFlush(runCtx)

	if e.net.IsOnline() {
		// Push whatever the previous session left behind.
		go e.Flush(runCtx)
	}
	return nil
}

// Stop tears the engine down on tenant switch or shutdown.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.sub != nil {
		e.sub.Unsubscribe()
	}
	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Unlock()
}

// hybridLoad merges the server's active orders into the cache and refreshes
// the read caches. Local pending orders keep precedence until their queued
// mutation completes.
func (e *Engine) hybridLoad(ctx context.Context) {
	remote, err := e.gw.FetchActiveOrders(ctx, e.tenantID, activeOrderFetchLimit)
	if err != nil {
		e.log.Warn("SYNC", fmt.Sprintf("initial order fetch failed: %v", err))
	} else {
		for _, ro := range remote {
			if ro.TenantID != e.tenantID {
				continue
			}
			ro.SyncStatus = models.SyncSynced
			if ro.LastModified == 0 {
				ro.LastModified = ro.CreatedAt.UnixMilli()
			}
			local, err := e.store.GetOrder(ctx, ro.ID)
			if err != nil {
				continue
			}
			if local != nil && local.SyncStatus == models.SyncPending && e.hasOutstanding(ctx, ro.ID) {
				continue
			}
			if err := e.store.SaveOrder(ctx, ro); err != nil {
				e.log.Error("SYNC", fmt.Sprintf("cache remote order %s: %v", ro.ID, err))
			}
		}
	}

	if products, err := e.gw.FetchProducts(ctx, e.tenantID); err == nil && len(products) > 0 {
		if err := e.store.ReplaceProducts(ctx, e.tenantID, products); err != nil {
			e.log.Error("SYNC", fmt.Sprintf("refresh product cache: %v", err))
		}
	}

	if clients, err := e.gw.FetchClients(ctx, e.tenantID); err == nil && len(clients) > 0 {
		if err := e.store.ReplaceClients(ctx, e.tenantID, clients); err != nil {
			e.log.Error("SYNC", fmt.Sprintf("refresh client cache: %v", err))
		}
	}

	if topo, err := e.gw.FetchTopology(ctx, e.tenantID); err == nil && topo != nil {
		if err := e.store.ReplaceVenueNodes(ctx, e.tenantID, topo.Nodes); err != nil {
			e.log.Error("SYNC", fmt.Sprintf("refresh venue nodes: %v", err))
		}
		if err := e.store.ReplaceVenueZones(ctx, e.tenantID, topo.Zones); err != nil {
			e.log.Error("SYNC", fmt.Sprintf("refresh venue zones: %v", err))
		}
		if err := e.store.ReplaceStorageLocations(ctx, e.tenantID, topo.Locations); err != nil {
			e.log.Error("SYNC", fmt.Sprintf("refresh storage locations: %v", err))
		}
		if err := e.store.ReplaceInventoryItems(ctx, e.tenantID, topo.Inventory); err != nil {
			e.log.Error("SYNC", fmt.Sprintf("refresh inventory cache: %v", err))
		}
	}

	e.refreshView(ctx)
}

func (e *Engine) watchNetwork(ctx context.Context, transitions <-chan netmon.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-transitions:
			if !ok {
				return
			}
			if t.Online {
				e.notifier.Emit(notify.Notification{
					Level: notify.LevelSuccess, Title: "Connection restored", Message: "Synchronizing queued changes",
				})
				// Short debounce to let dependent initialization settle.
				go func() {
					select {
					case <-time.After(e.onlineDebounce):
						e.Flush(ctx)
					case <-ctx.Done():
					}
				}()
			} else {
				e.notifier.Emit(notify.Notification{
					Level: notify.LevelInfo, Title: "Offline mode", Message: "Operating locally, changes are queued",
				})
			}
		}
	}
}

func (e *Engine) periodicFlush(ctx context.Context) {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.Paused() || !e.net.IsOnline() {
				continue
			}
			e.Flush(ctx)
		}
	}
}

func (e *Engine) feedLoop(ctx context.Context, sub gateway.ChangeStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			e.handleChange(ctx, ev)
		}
	}
}

// TriggerFlush is the explicit manual trigger. It clears a hard-error pause;
// the operator asking for a sync is the manual intervention the pause waits for.
func (e *Engine) TriggerFlush() {
	e.mu.Lock()
	e.paused = false
	e.failStreak = 0
	e.mu.Unlock()
	go e.Flush(e.runCtx)
}

// Flush runs one pass over the queue. Concurrent invocations are serialized:
// a trigger arriving mid-flush is deferred into exactly one follow-up pass,
// never dropped and never re-entered.
func (e *Engine) Flush(ctx context.Context) {
	e.mu.Lock()
	if e.flushing {
		e.followUp = true
		e.mu.Unlock()
		return
	}
	e.flushing = true
	e.mu.Unlock()

	for {
		e.flushOnce(ctx)

		e.mu.Lock()
		if e.followUp {
			e.followUp = false
			e.mu.Unlock()
			continue
		}
		e.flushing = false
		e.mu.Unlock()
		return
	}
}

// IsFlushing reports whether a flush pass is currently running.
func (e *Engine) IsFlushing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushing
}

// Paused reports whether automatic retrying stopped after a hard error.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// flushOnce processes a snapshot of the queue in strict FIFO order. Events
// enqueued while it runs are picked up by the next pass.
func (e *Engine) flushOnce(ctx context.Context) {
	if !e.net.IsOnline() {
		return
	}

	queue, err := e.store.Queue(ctx, e.tenantID)
	if err != nil {
		// Transient storage failure; the queue is untouched, next flush retries.
		e.log.Error("SYNC", fmt.Sprintf("load queue: %v", err))
		return
	}
	if len(queue) == 0 {
		return
	}

	var (
		synced       int
		retriable    int
		recentErrors []string
	)

	for _, ev := range queue {
		if ev.RetryCount >= e.maxRetries {
			// Forced purge: a mutation that failed this often must not block
			// the queue or keep spamming the operator.
			if err := e.store.RemoveEvent(ctx, ev.ID); err != nil {
				e.log.Error("SYNC", fmt.Sprintf("purge event %s: %v", ev.ID, err))
				continue
			}
			e.log.Warn("SYNC", fmt.Sprintf("dropped %s event %s after %d attempts: %s", ev.Type, ev.ID, ev.RetryCount, ev.LastError))
			e.notifier.Emit(notify.Notification{
				Level: notify.LevelError, Title: "Change discarded",
				Message: fmt.Sprintf("A %s change failed %d times and was dropped", ev.Type, ev.RetryCount),
			})
			continue
		}

		if ev.Terminal {
			// Flagged by a previous pass; purge instead of looping.
			if err := e.store.RemoveEvent(ctx, ev.ID); err != nil {
				e.log.Error("SYNC", fmt.Sprintf("purge terminal event %s: %v", ev.ID, err))
			}
			continue
		}

		err := e.dispatch(ctx, ev)
		switch {
		case err != nil && ctx.Err() != nil:
			// Shutdown mid-flush. The event stays queued untouched; it must not
			// be flagged terminal over an interrupted attempt.
			e.log.Debug("SYNC", fmt.Sprintf("flush interrupted at event %s", ev.ID))
			return

		case err == nil:
			if err := e.store.RemoveEvent(ctx, ev.ID); err != nil {
				e.log.Error("SYNC", fmt.Sprintf("remove event %s: %v", ev.ID, err))
				continue
			}
			synced++

		case !gateway.Retriable(err):
			// Domain or validation rejection: flag it so the next flush purges
			// it, and ask for manual resolution instead of retrying.
			ev.Terminal = true
			ev.LastError = err.Error()
			if uerr := e.store.UpdateEvent(ctx, ev); uerr != nil {
				e.log.Error("SYNC", fmt.Sprintf("flag event %s: %v", ev.ID, uerr))
			}
			recentErrors = append(recentErrors, err.Error())
			e.log.Warn("SYNC", fmt.Sprintf("event %s rejected: %v", ev.ID, err))
			e.notifier.Emit(notify.Notification{
				Level: notify.LevelWarning, Title: "Sync conflict",
				Message: fmt.Sprintf("%s needs manual resolution: %v", ev.Type, err),
			})

		default:
			ev.RetryCount++
			ev.LastError = err.Error()
			if uerr := e.store.UpdateEvent(ctx, ev); uerr != nil {
				e.log.Error("SYNC", fmt.Sprintf("requeue event %s: %v", ev.ID, uerr))
			}
			retriable++
			recentErrors = append(recentErrors, err.Error())
		}
	}

	e.refreshView(ctx)

	if synced > 0 {
		e.log.LogSync("FLUSH", fmt.Sprintf("%d changes synchronized", synced))
		e.notifier.Emit(notify.Notification{
			Level: notify.LevelSuccess, Title: "Synchronized", Count: synced,
			Message: fmt.Sprintf("%d changes synchronized", synced),
		})
	}

	if retriable == 0 {
		e.mu.Lock()
		e.failStreak = 0
		e.mu.Unlock()
		return
	}

	// Loop prevention: a hard error in the recent failures means no amount of
	// backoff will help. Stop and wait for manual intervention.
	for _, msg := range recentErrors {
		if gateway.IsHardError(msg) {
			e.mu.Lock()
			e.paused = true
			e.mu.Unlock()
			e.log.Error("SYNC", "hard error detected, automatic retry paused: "+msg)
			e.notifier.Emit(notify.Notification{
				Level: notify.LevelError, Title: "Sync paused",
				Message: "A change cannot be applied automatically, manual intervention required",
			})
			return
		}
	}

	if !e.net.IsOnline() {
		return
	}

	e.mu.Lock()
	e.failStreak++
	streak := e.failStreak
	e.mu.Unlock()

	delay := BackoffDelay(streak)
	e.log.LogSync("RETRY", fmt.Sprintf("%d changes failed, retrying in %s", retriable, delay))
	e.notifier.Emit(notify.Notification{
		Level: notify.LevelWarning, Title: "Sync retry scheduled", Count: retriable,
		Message: fmt.Sprintf("%d changes failed, automatic retry in %s", retriable, delay),
	})
	e.scheduleFlush(delay)
}

// BackoffDelay returns min(5s * 2^(failCount-1), 60s).
func BackoffDelay(failCount int) time.Duration {
	if failCount < 1 {
		failCount = 1
	}
	delay := baseBackoff
	for i := 1; i < failCount; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

func (e *Engine) scheduleFlush(delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(delay, func() {
		if e.Paused() {
			return
		}
		e.Flush(e.runCtx)
	})
}

// dispatch sends one event to the gateway method matching its type.
func (e *Engine) dispatch(ctx context.Context, ev models.SyncEvent) error {
	switch ev.Type {
	case models.EventCreateOrder:
		p, err := ev.DecodeCreateOrder()
		if err != nil {
			return &gateway.RemoteError{Code: "BAD_PAYLOAD", Message: err.Error()}
		}
		return e.dispatchCreate(ctx, p.Order)

	case models.EventUpdateStatus:
		p, err := ev.DecodeUpdateStatus()
		if err != nil {
			return &gateway.RemoteError{Code: "BAD_PAYLOAD", Message: err.Error()}
		}
		if err := e.gw.SetOrderStatus(ctx, p.OrderID, p.Status); err != nil {
			return err
		}
		return e.markSynced(ctx, p.OrderID, p.Status)

	case models.EventConfirmDelivery:
		p, err := ev.DecodeConfirmDelivery()
		if err != nil {
			return &gateway.RemoteError{Code: "BAD_PAYLOAD", Message: err.Error()}
		}
		res, err := e.gw.ConfirmDelivery(ctx, p.OrderID, p.StaffID)
		if err != nil {
			return err
		}
		if res.Success {
			return e.markSynced(ctx, p.OrderID, models.StatusDelivered)
		}
		if gateway.IsNotFoundMessage(res.Message) {
			// The order is gone server-side; retrying is pointless. Clean up
			// every local trace instead.
			e.cleanupMissingOrder(ctx, p.OrderID)
			return nil
		}
		return &gateway.RemoteError{Message: res.Message}

	default:
		return &gateway.RemoteError{Code: "UNKNOWN_EVENT", Message: string(ev.Type)}
	}
}

// dispatchCreate resolves a default dispatch node when the order has none,
// then submits. Orders without a node assignment are invisible to
// station-specific dispatch views.
func (e *Engine) dispatchCreate(ctx context.Context, order models.Order) error {
	if order.NodeID == "" {
		if nodeID := e.resolveDispatchNode(ctx); nodeID != "" {
			order.NodeID = nodeID
			if local, err := e.store.GetOrder(ctx, order.ID); err == nil && local != nil && local.NodeID == "" {
				local.NodeID = nodeID
				local.Touch()
				if err := e.store.SaveOrder(ctx, *local); err != nil {
					e.log.Error("SYNC", fmt.Sprintf("persist node assignment for %s: %v", order.ID, err))
				}
			}
		}
	}

	res, err := e.gw.SubmitOrder(ctx, order)
	if err != nil {
		return err
	}
	if !res.Success {
		message := res.Message
		if message == "" {
			message = res.Error
		}
		return &gateway.RemoteError{Code: res.Error, Message: message}
	}
	return e.markSynced(ctx, order.ID, "")
}

// resolveDispatchNode checks the topology cache first and falls back to a
// remote lookup, caching the answer.
func (e *Engine) resolveDispatchNode(ctx context.Context) string {
	if node, err := e.store.DefaultVenueNode(ctx, e.tenantID); err == nil && node != nil {
		return node.ID
	}
	nodeID, err := e.gw.ResolveDefaultNode(ctx, e.tenantID)
	if err != nil || nodeID == "" {
		return ""
	}
	if err := e.store.SaveVenueNode(ctx, models.VenueNode{
		ID:        nodeID,
		TenantID:  e.tenantID,
		IsDefault: true,
	}); err != nil {
		e.log.Error("SYNC", fmt.Sprintf("cache default node: %v", err))
	}
	return nodeID
}

// markSynced confirms the local copy of an order. An empty status leaves the
// lifecycle state untouched.
func (e *Engine) markSynced(ctx context.Context, orderID string, status models.OrderStatus) error {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return nil
	}
	order.SyncStatus = models.SyncSynced
	if status != "" {
		order.Status = status
	}
	order.Touch()
	return e.store.SaveOrder(ctx, *order)
}

// cleanupMissingOrder removes an order that no longer exists server-side plus
// every queued mutation referencing it.
func (e *Engine) cleanupMissingOrder(ctx context.Context, orderID string) {
	e.log.LogOrder("CLEANUP", orderID, "order missing server-side, removing local traces")
	if err := e.store.DeleteOrder(ctx, orderID); err != nil {
		e.log.Error("SYNC", fmt.Sprintf("cleanup order %s: %v", orderID, err))
	}
	if err := e.store.RemoveEventsForOrder(ctx, orderID); err != nil {
		e.log.Error("SYNC", fmt.Sprintf("cleanup events for %s: %v", orderID, err))
	}
}

func (e *Engine) hasOutstanding(ctx context.Context, orderID string) bool {
	events, err := e.store.EventsForOrder(ctx, orderID)
	if err != nil {
		return false
	}
	for _, ev := range events {
		if !ev.Terminal {
			return true
		}
	}
	return false
}

// refreshView recomputes the derived in-memory order list. The view is never
// the source of truth, the store is.
func (e *Engine) refreshView(ctx context.Context) {
	orders, err := e.store.OrdersByTenant(ctx, e.tenantID)
	if err != nil {
		e.log.Error("SYNC", fmt.Sprintf("refresh view: %v", err))
		return
	}
	e.viewMu.Lock()
	e.view = orders
	e.viewMu.Unlock()
}

// Refresh reloads the in-memory view from the store.
func (e *Engine) Refresh(ctx context.Context) {
	e.refreshView(ctx)
}

// Orders returns a copy of the derived order list, newest first.
func (e *Engine) Orders() []models.Order {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	out := make([]models.Order, len(e.view))
	copy(out, e.view)
	return out
}

// PendingCount reports how many mutations are waiting in the queue.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	queue, err := e.store.Queue(ctx, e.tenantID)
	if err != nil {
		return 0, err
	}
	return len(queue), nil
}
