package interfaces

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"eatcloud/internal/pkg/errs"
	"eatcloud/internal/pkg/logger"
	"eatcloud/internal/service/store/application"
)

// InventoryHandler exposes the ledger and the projection over HTTP.
type InventoryHandler struct {
	inventory *application.InventoryService
	projector *application.Projector
	replayer  *application.Replayer
}

func NewInventoryHandler(inventory *application.InventoryService, projector *application.Projector, replayer *application.Replayer) *InventoryHandler {
	return &InventoryHandler{inventory: inventory, projector: projector, replayer: replayer}
}

func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /inventory/reserve", h.reserve)
	mux.HandleFunc("POST /inventory/confirm", h.confirm)
	mux.HandleFunc("POST /inventory/cancel", h.cancel)
	mux.HandleFunc("POST /inventory/cancel-after-confirm", h.cancelAfterConfirm)
	mux.HandleFunc("POST /inventory/adjust", h.adjust)
	mux.HandleFunc("POST /inventory/provision", h.provision)
	mux.HandleFunc("GET /inventory/{sku}", h.stock)
	mux.HandleFunc("GET /inventory/{sku}/projection", h.projection)
	mux.HandleFunc("POST /inventory/{sku}/projection/rebuild", h.rebuild)
}

type reserveRequest struct {
	OrderID     string `json:"orderId"`
	OrderLineID string `json:"orderLineId"`
	MenuID      string `json:"menuId"`
	Qty         int64  `json:"qty"`
}

type lineRequest struct {
	OrderLineID string `json:"orderLineId"`
	Reason      string `json:"reason"`
}

type adjustRequest struct {
	MenuID string `json:"menuId"`
	Delta  int64  `json:"delta"`
	Qty    int64  `json:"qty"`
}

type countsResponse struct {
	MenuID    string `json:"menuId"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errs.WriteProblem(w, errs.ErrInvalidRequest.With("malformed json body", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	ev := logger.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Ctx(r.Context()).Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("inventory request failed")
	errs.WriteProblem(w, err)
}

func extract(r *http.Request) *http.Request {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return r.WithContext(ctx)
}

func (h *InventoryHandler) reserve(w http.ResponseWriter, r *http.Request) {
	r = extract(r)
	var req reserveRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.inventory.Reserve(r.Context(), application.ReserveCommand{
		OrderID: req.OrderID, OrderLineID: req.OrderLineID, SKU: req.MenuID, Qty: req.Qty,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reservationId": res.ID,
		"status":        res.Status,
		"expiresAt":     res.ExpiresAt,
	})
}

func (h *InventoryHandler) confirm(w http.ResponseWriter, r *http.Request) {
	r = extract(r)
	var req lineRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.inventory.Confirm(r.Context(), req.OrderLineID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) cancel(w http.ResponseWriter, r *http.Request) {
	r = extract(r)
	var req lineRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.inventory.Cancel(r.Context(), req.OrderLineID, req.Reason); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) cancelAfterConfirm(w http.ResponseWriter, r *http.Request) {
	r = extract(r)
	var req lineRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.inventory.CancelAfterConfirm(r.Context(), req.OrderLineID, req.Reason); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request) {
	r = extract(r)
	var req adjustRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.inventory.Adjust(r.Context(), req.MenuID, req.Delta); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) provision(w http.ResponseWriter, r *http.Request) {
	r = extract(r)
	var req adjustRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.inventory.Provision(r.Context(), req.MenuID, req.Qty); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *InventoryHandler) stock(w http.ResponseWriter, r *http.Request) {
	st, err := h.inventory.Stock(r.Context(), r.PathValue("sku"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countsResponse{MenuID: st.SKU, Available: st.Available, Reserved: st.Reserved})
}

func (h *InventoryHandler) projection(w http.ResponseWriter, r *http.Request) {
	p, err := h.projector.Projection(r.Context(), r.PathValue("sku"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countsResponse{MenuID: p.SKU, Available: p.Avail, Reserved: p.Reserved})
}

func (h *InventoryHandler) rebuild(w http.ResponseWriter, r *http.Request) {
	p, err := h.replayer.Rebuild(r.Context(), r.PathValue("sku"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countsResponse{MenuID: p.SKU, Available: p.Avail, Reserved: p.Reserved})
}
