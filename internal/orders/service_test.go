package orders

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pos-sync/internal/gateway"
	"pos-sync/internal/logger"
	"pos-sync/internal/models"
	"pos-sync/internal/store"
)

const testTenant = "cafe-1"

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) SubmitOrder(ctx context.Context, order models.Order) (*gateway.SubmitResult, error) {
	args := m.Called(ctx, order)
	if res := args.Get(0); res != nil {
		return res.(*gateway.SubmitResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRemote) SetOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error {
	args := m.Called(ctx, orderID, status)
	return args.Error(0)
}

func (m *mockRemote) ConfirmDelivery(ctx context.Context, orderID, staffID string) (*gateway.DeliveryResult, error) {
	args := m.Called(ctx, orderID, staffID)
	if res := args.Get(0); res != nil {
		return res.(*gateway.DeliveryResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type stubNet bool

func (s stubNet) IsOnline() bool { return bool(s) }

type stubSyncer struct {
	mu      sync.Mutex
	flushes int
}

func (s *stubSyncer) TriggerFlush() {
	s.mu.Lock()
	s.flushes++
	s.mu.Unlock()
}

func (s *stubSyncer) Orders() []models.Order                       { return nil }
func (s *stubSyncer) PendingCount(ctx context.Context) (int, error) { return 0, nil }
func (s *stubSyncer) Refresh(ctx context.Context)                   {}

func (s *stubSyncer) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func newTestService(t *testing.T, remote Remote, online bool) (*Service, *store.Store, *stubSyncer) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	syncer := &stubSyncer{}
	svc := NewService(st, remote, stubNet(online), syncer, &logger.Logger{}, testTenant)
	return svc, st, syncer
}

func sampleInput() CreateInput {
	return CreateInput{
		Customer: "Ana",
		Channel:  models.ChannelTakeaway,
		Items: []models.OrderItem{
			{ProductID: "p-1", Name: "Espresso", Quantity: 2, UnitPrice: 2.5},
			{ProductID: "p-2", Name: "Croissant", Quantity: 1, UnitPrice: 3.0},
		},
		PaymentMethod: "cash",
	}
}

func TestCreateOrderOfflineQueues(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, st, syncer := newTestService(t, remote, false)

	order, err := svc.CreateOrder(ctx, sampleInput())
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, 8.0, order.Total)
	assert.Equal(t, models.SyncPending, order.SyncStatus)
	assert.NotEmpty(t, order.PickupCode)

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusPending, got.Status)

	queue, err := st.Queue(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, models.EventCreateOrder, queue[0].Type)
	assert.Equal(t, order.ID, queue[0].OrderID)

	assert.Equal(t, 1, syncer.flushCount())
	remote.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestCreateOrderOnlineSubmitsDirectly(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, st, _ := newTestService(t, remote, true)

	remote.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(&gateway.SubmitResult{Success: true}, nil)

	order, err := svc.CreateOrder(ctx, sampleInput())
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, order.SyncStatus)

	queue, err := st.Queue(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestCreateOrderOnlineStockConflictIsNotQueued(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, st, _ := newTestService(t, remote, true)

	remote.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(&gateway.SubmitResult{
			Success: false,
			Error:   gateway.CodeInsufficientStock,
			Message: "insufficient stock",
			Conflicts: []gateway.StockConflict{
				{ProductID: "p-1", Requested: 2, Available: 0},
			},
		}, nil)

	_, err := svc.CreateOrder(ctx, sampleInput())
	require.Error(t, err)
	var remoteErr *gateway.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, gateway.CodeInsufficientStock, remoteErr.Code)

	// A rejected order never existed: nothing cached, nothing queued.
	orders, lerr := st.OrdersByTenant(ctx, testTenant)
	require.NoError(t, lerr)
	assert.Empty(t, orders)
	queue, qerr := st.Queue(ctx, testTenant)
	require.NoError(t, qerr)
	assert.Empty(t, queue)
}

func TestCreateOrderTransportFailureFallsBackToQueue(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, st, syncer := newTestService(t, remote, true)

	remote.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(nil, &gateway.RemoteError{Status: 503, Message: "service unavailable", Retriable: true})

	order, err := svc.CreateOrder(ctx, sampleInput())
	require.NoError(t, err)
	assert.Equal(t, models.SyncPending, order.SyncStatus)

	queue, qerr := st.Queue(ctx, testTenant)
	require.NoError(t, qerr)
	require.Len(t, queue, 1)
	assert.Equal(t, models.EventCreateOrder, queue[0].Type)
	assert.Equal(t, 1, syncer.flushCount())
}

func TestCreateOrderRequiresItems(t *testing.T) {
	svc, _, _ := newTestService(t, &mockRemote{}, false)
	_, err := svc.CreateOrder(context.Background(), CreateInput{Customer: "Ana"})
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestUpdateStatusCollapsesQueuedChanges(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, st, _ := newTestService(t, remote, false)

	order, err := svc.CreateOrder(ctx, sampleInput())
	require.NoError(t, err)

	_, err = svc.UpdateOrderStatus(ctx, order.ID, models.StatusPreparing)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond) // distinct queue timestamps
	_, err = svc.UpdateOrderStatus(ctx, order.ID, models.StatusReady)
	require.NoError(t, err)

	queue, err := st.Queue(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, queue, 2, "one create plus one collapsed status change")

	var statusEvents []models.SyncEvent
	for _, ev := range queue {
		if ev.Type == models.EventUpdateStatus {
			statusEvents = append(statusEvents, ev)
		}
	}
	require.Len(t, statusEvents, 1)
	payload, err := statusEvents[0].DecodeUpdateStatus()
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, payload.Status, "only the latest intended status is queued")

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusReady, got.Status)
}

func TestUpdateStatusOnlinePushesDirectly(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, st, _ := newTestService(t, remote, true)

	remote.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(&gateway.SubmitResult{Success: true}, nil)
	order, err := svc.CreateOrder(ctx, sampleInput())
	require.NoError(t, err)

	remote.On("SetOrderStatus", mock.Anything, order.ID, models.StatusPreparing).Return(nil)

	updated, err := svc.UpdateOrderStatus(ctx, order.ID, models.StatusPreparing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreparing, updated.Status)
	assert.Equal(t, models.SyncSynced, updated.SyncStatus)

	queue, err := st.Queue(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, queue, "a confirmed transition needs no queue entry")
	remote.AssertCalled(t, "SetOrderStatus", mock.Anything, order.ID, models.StatusPreparing)
}

func TestUpdateStatusTransportFailureFallsBackToQueue(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, st, syncer := newTestService(t, remote, true)

	remote.On("SubmitOrder", mock.Anything, mock.Anything).
		Return(&gateway.SubmitResult{Success: true}, nil)
	order, err := svc.CreateOrder(ctx, sampleInput())
	require.NoError(t, err)

	remote.On("SetOrderStatus", mock.Anything, order.ID, models.StatusReady).
		Return(&gateway.RemoteError{Status: 503, Message: "service unavailable", Retriable: true})

	updated, err := svc.UpdateOrderStatus(ctx, order.ID, models.StatusReady)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPending, updated.SyncStatus)

	queue, qerr := st.Queue(ctx, testTenant)
	require.NoError(t, qerr)
	require.Len(t, queue, 1)
	assert.Equal(t, models.EventUpdateStatus, queue[0].Type)
	assert.Equal(t, 1, syncer.flushCount())
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTestService(t, &mockRemote{}, false)
	_, err := svc.UpdateOrderStatus(context.Background(), "o-1", "teleported")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestConfirmDeliveryOnlineNotFoundCleansUp(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, st, _ := newTestService(t, remote, true)

	// Stale cached order with a leftover queued mutation.
	stale := models.Order{
		ID: "o-stale", TenantID: testTenant, Customer: "Ana",
		Status: models.StatusReady, SyncStatus: models.SyncSynced,
		CreatedAt: time.Now(), LastModified: time.Now().UnixMilli(),
	}
	require.NoError(t, st.SaveOrder(ctx, stale))
	ev, err := models.NewUpdateStatusEvent(testTenant, "o-stale", models.StatusReady)
	require.NoError(t, err)
	require.NoError(t, st.Enqueue(ctx, ev))

	remote.On("ConfirmDelivery", mock.Anything, "o-stale", "staff-7").
		Return(&gateway.DeliveryResult{Success: false, Message: "Order not found or already delivered"}, nil)

	res, err := svc.ConfirmDelivery(ctx, "o-stale", "staff-7")
	require.NoError(t, err)
	assert.False(t, res.Success)

	gone, err := st.GetOrder(ctx, "o-stale")
	require.NoError(t, err)
	assert.Nil(t, gone)

	queue, err := st.Queue(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestConfirmDeliveryUnknownOrderCleansStrayQueueEntries(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, st, _ := newTestService(t, remote, true)

	// No cached order, but a stray queue entry references the id.
	ev, err := models.NewUpdateStatusEvent(testTenant, "missing-id", models.StatusReady)
	require.NoError(t, err)
	require.NoError(t, st.Enqueue(ctx, ev))

	remote.On("ConfirmDelivery", mock.Anything, "missing-id", "staff-1").
		Return(&gateway.DeliveryResult{Success: false, Message: "Order not found"}, nil)

	res, err := svc.ConfirmDelivery(ctx, "missing-id", "staff-1")
	require.NoError(t, err)
	assert.False(t, res.Success)

	queue, err := st.Queue(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestConfirmDeliveryOfflineQueues(t *testing.T) {
	ctx := context.Background()
	remote := &mockRemote{}
	svc, st, syncer := newTestService(t, remote, false)

	order, err := svc.CreateOrder(ctx, sampleInput())
	require.NoError(t, err)

	res, err := svc.ConfirmDelivery(ctx, order.ID, "staff-7")
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := st.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusDelivered, got.Status)
	assert.Equal(t, models.SyncPending, got.SyncStatus)

	queue, err := st.Queue(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.GreaterOrEqual(t, syncer.flushCount(), 2)
	remote.AssertNotCalled(t, "ConfirmDelivery", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmDeliveryOfflineUnknownOrderFails(t *testing.T) {
	svc, _, _ := newTestService(t, &mockRemote{}, false)
	_, err := svc.ConfirmDelivery(context.Background(), "o-unknown", "staff-7")
	assert.ErrorIs(t, err, ErrOfflineLookup)
}

func TestPickupQR(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, &mockRemote{}, false)

	order, err := svc.CreateOrder(ctx, sampleInput())
	require.NoError(t, err)

	png, err := svc.PickupQR(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")), "payload should be a PNG image")

	_, err = svc.PickupQR(ctx, "o-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}
