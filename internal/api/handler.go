package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pos-sync/internal/gateway"
	"pos-sync/internal/logger"
	"pos-sync/internal/models"
	"pos-sync/internal/netmon"
	"pos-sync/internal/notify"
	"pos-sync/internal/orders"
	syncengine "pos-sync/internal/sync"
)

// Handler is the local HTTP surface of the terminal: the till UI and the
// counter display talk to it, never to the remote backend directly.
type Handler struct {
	svc     *orders.Service
	engine  *syncengine.Engine
	monitor *netmon.Monitor
	emitter *notify.Emitter
	log     *logger.Logger
}

func NewHandler(svc *orders.Service, engine *syncengine.Engine, monitor *netmon.Monitor, emitter *notify.Emitter, log *logger.Logger) *Handler {
	return &Handler{svc: svc, engine: engine, monitor: monitor, emitter: emitter, log: log}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Post("/sync", h.triggerSync)
		r.Get("/notifications", h.notifications)
		r.Get("/products", h.listProducts)
		r.Get("/clients", h.listClients)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			r.Post("/", h.createOrder)
			r.Get("/{id}", h.getOrder)
			r.Patch("/{id}/status", h.updateStatus)
			r.Post("/{id}/delivery", h.confirmDelivery)
			r.Get("/{id}/qr", h.pickupQR)
		})
	})

	return r
}

// ---------------- STATUS & SYNC ----------------

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.PendingCount(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"online":  h.monitor.IsOnline(),
		"syncing": h.engine.IsFlushing(),
		"paused":  h.engine.Paused(),
		"pending": pending,
	})
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	h.engine.TriggerFlush()
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "flush triggered"})
}

// notifications streams sync notifications as server-sent events.
func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.emitter.Subscribe(r.Context())
	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// ---------------- ORDERS ----------------

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Orders())
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	order, err := h.svc.CreateOrder(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	order, err := h.svc.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StaffID string `json:"staff_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	res, err := h.svc.ConfirmDelivery(r.Context(), chi.URLParam(r, "id"), body.StaffID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) pickupQR(w http.ResponseWriter, r *http.Request) {
	png, err := h.svc.PickupQR(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Products(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.svc.Clients(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, clients)
}

// ---------------- HELPERS ----------------

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("API", fmt.Sprintf("encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var remote *gateway.RemoteError
	switch {
	case errors.Is(err, orders.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrNoItems), errors.Is(err, orders.ErrInvalidStatus):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, orders.ErrOfflineLookup):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.As(err, &remote) && !remote.Retriable:
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": remote.Message, "code": remote.Code})
	default:
		h.log.Error("API", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
