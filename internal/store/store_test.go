package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-sync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleOrder(id, tenantID string) models.Order {
	return models.Order{
		ID:       id,
		TenantID: tenantID,
		Customer: "Ana",
		Channel:  models.ChannelDineIn,
		Items: models.OrderItems{
			{ProductID: "p-espresso", Name: "Espresso", Quantity: 2, UnitPrice: 2.5},
			{ProductID: "p-croissant", Name: "Croissant", Quantity: 1, UnitPrice: 3.0},
		},
		Total:        8.0,
		Status:       models.StatusPending,
		CreatedAt:    time.Now(),
		SyncStatus:   models.SyncPending,
		LastModified: time.Now().UnixMilli(),
	}
}

func TestOrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	order := sampleOrder("o-1", "cafe-1")
	require.NoError(t, st.SaveOrder(ctx, order))

	got, err := st.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ana", got.Customer)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Len(t, got.Items, 2)
	assert.Equal(t, "Espresso", got.Items[0].Name)
	assert.Equal(t, 2.5, got.Items[0].UnitPrice)

	require.NoError(t, st.DeleteOrder(ctx, "o-1"))
	got, err = st.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveOrderIsUpsert(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	order := sampleOrder("o-1", "cafe-1")
	require.NoError(t, st.SaveOrder(ctx, order))

	order.Status = models.StatusReady
	order.SyncStatus = models.SyncSynced
	require.NoError(t, st.SaveOrder(ctx, order))

	got, err := st.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusReady, got.Status)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)

	orders, err := st.OrdersByTenant(ctx, "cafe-1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestOrdersByTenantNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	older := sampleOrder("o-old", "cafe-1")
	older.LastModified = 1000
	newer := sampleOrder("o-new", "cafe-1")
	newer.LastModified = 2000
	foreign := sampleOrder("o-other", "cafe-2")

	require.NoError(t, st.SaveOrder(ctx, older))
	require.NoError(t, st.SaveOrder(ctx, newer))
	require.NoError(t, st.SaveOrder(ctx, foreign))

	orders, err := st.OrdersByTenant(ctx, "cafe-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o-new", orders[0].ID)
	assert.Equal(t, "o-old", orders[1].ID)
}

func TestQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	first, err := models.NewCreateOrderEvent("cafe-1", sampleOrder("o-1", "cafe-1"))
	require.NoError(t, err)
	first.Timestamp = 100
	second, err := models.NewUpdateStatusEvent("cafe-1", "o-1", models.StatusPreparing)
	require.NoError(t, err)
	second.Timestamp = 200
	third, err := models.NewConfirmDeliveryEvent("cafe-1", "o-1", "staff-7")
	require.NoError(t, err)
	third.Timestamp = 300

	// Insert out of order on purpose; the queue must come back by timestamp.
	require.NoError(t, st.Enqueue(ctx, third))
	require.NoError(t, st.Enqueue(ctx, first))
	require.NoError(t, st.Enqueue(ctx, second))

	queue, err := st.Queue(ctx, "cafe-1")
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, models.EventCreateOrder, queue[0].Type)
	assert.Equal(t, models.EventUpdateStatus, queue[1].Type)
	assert.Equal(t, models.EventConfirmDelivery, queue[2].Type)
}

func TestUpdateEventPersistsRetryState(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	event, err := models.NewUpdateStatusEvent("cafe-1", "o-1", models.StatusReady)
	require.NoError(t, err)
	require.NoError(t, st.Enqueue(ctx, event))

	event.RetryCount = 3
	event.LastError = "connection refused"
	event.Terminal = true
	require.NoError(t, st.UpdateEvent(ctx, event))

	queue, err := st.Queue(ctx, "cafe-1")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, 3, queue[0].RetryCount)
	assert.Equal(t, "connection refused", queue[0].LastError)
	assert.True(t, queue[0].Terminal)
}

func TestRemoveEventsForOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	forOrder, err := models.NewUpdateStatusEvent("cafe-1", "o-1", models.StatusReady)
	require.NoError(t, err)
	unrelated, err := models.NewUpdateStatusEvent("cafe-1", "o-2", models.StatusReady)
	require.NoError(t, err)
	require.NoError(t, st.Enqueue(ctx, forOrder))
	require.NoError(t, st.Enqueue(ctx, unrelated))

	require.NoError(t, st.RemoveEventsForOrder(ctx, "o-1"))

	queue, err := st.Queue(ctx, "cafe-1")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "o-2", queue[0].OrderID)
}

func TestPurgeForeignTenant(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.SaveOrder(ctx, sampleOrder("o-mine", "cafe-1")))
	require.NoError(t, st.SaveOrder(ctx, sampleOrder("o-theirs", "cafe-2")))

	mine, err := models.NewUpdateStatusEvent("cafe-1", "o-mine", models.StatusReady)
	require.NoError(t, err)
	theirs, err := models.NewUpdateStatusEvent("cafe-2", "o-theirs", models.StatusReady)
	require.NoError(t, err)
	require.NoError(t, st.Enqueue(ctx, mine))
	require.NoError(t, st.Enqueue(ctx, theirs))

	require.NoError(t, st.ReplaceProducts(ctx, "cafe-2", []models.Product{
		{ID: "p-1", TenantID: "cafe-2", Name: "Latte", Price: 4.0, Available: true},
	}))

	require.NoError(t, st.PurgeForeignTenant(ctx, "cafe-1"))

	orders, err := st.OrdersByTenant(ctx, "cafe-1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	gone, err := st.GetOrder(ctx, "o-theirs")
	require.NoError(t, err)
	assert.Nil(t, gone)

	foreignQueue, err := st.Queue(ctx, "cafe-2")
	require.NoError(t, err)
	assert.Empty(t, foreignQueue)

	foreignProducts, err := st.ProductsByTenant(ctx, "cafe-2")
	require.NoError(t, err)
	assert.Empty(t, foreignProducts)
}

func TestDefaultVenueNode(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	node, err := st.DefaultVenueNode(ctx, "cafe-1")
	require.NoError(t, err)
	assert.Nil(t, node)

	require.NoError(t, st.SaveVenueNode(ctx, models.VenueNode{
		ID: "n-bar", TenantID: "cafe-1", Name: "Bar", IsDefault: true,
	}))
	require.NoError(t, st.SaveVenueNode(ctx, models.VenueNode{
		ID: "n-kitchen", TenantID: "cafe-1", Name: "Kitchen",
	}))

	node, err = st.DefaultVenueNode(ctx, "cafe-1")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "n-bar", node.ID)

	// Saving the same node again must update, not duplicate.
	require.NoError(t, st.SaveVenueNode(ctx, models.VenueNode{
		ID: "n-bar", TenantID: "cafe-1", Name: "Main Bar", IsDefault: true,
	}))
	nodes, err := st.VenueNodesByTenant(ctx, "cafe-1")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestReplaceProductsSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.ReplaceProducts(ctx, "cafe-1", []models.Product{
		{ID: "p-1", TenantID: "cafe-1", Name: "Espresso", Price: 2.5, Available: true},
		{ID: "p-2", TenantID: "cafe-1", Name: "Latte", Price: 4.0, Available: true},
	}))
	require.NoError(t, st.ReplaceProducts(ctx, "cafe-1", []models.Product{
		{ID: "p-3", TenantID: "cafe-1", Name: "Flat White", Price: 4.2, Available: true},
	}))

	products, err := st.ProductsByTenant(ctx, "cafe-1")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Flat White", products[0].Name)
}

func TestReplaceClientsSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	require.NoError(t, st.ReplaceClients(ctx, "cafe-1", []models.Client{
		{ID: "c-1", TenantID: "cafe-1", Name: "Ana", Phone: "111"},
		{ID: "c-2", TenantID: "cafe-1", Name: "Bruno"},
	}))
	require.NoError(t, st.ReplaceClients(ctx, "cafe-1", []models.Client{
		{ID: "c-3", TenantID: "cafe-1", Name: "Carla", Email: "carla@example.com"},
	}))

	clients, err := st.ClientsByTenant(ctx, "cafe-1")
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "Carla", clients[0].Name)
}
