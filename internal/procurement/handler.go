package procurement

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/procurement/internal/platform/httpx"
)

// Handler exposes purchase order and receipt endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountPurchaseOrderRoutes registers /v1/purchase-orders.
func (h *Handler) MountPurchaseOrderRoutes(r chi.Router) {
	r.Get("/", h.listPOs)
	r.Post("/", h.createPO)
	r.Get("/{id}", h.showPO)
	r.Put("/{id}", h.updatePO)
	r.Delete("/{id}", h.deletePO)
	r.Put("/{id}/status", h.setPOStatus)
}

// MountReceiptRoutes registers /v1/receipts.
func (h *Handler) MountReceiptRoutes(r chi.Router) {
	r.Get("/", h.listReceipts)
	r.Post("/", h.createReceipt)
	r.Get("/{id}", h.showReceipt)
}

func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListPurchaseOrders(r.Context())
	if err != nil {
		h.fail(w, r, "list purchase orders failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) showPO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get purchase order failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) createPO(w http.ResponseWriter, r *http.Request) {
	var in CreatePOInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create purchase order failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) updatePO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in UpdatePOInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.UpdatePurchaseOrder(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "update purchase order failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) setPOStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in SetStatusInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.SetStatus(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, "set purchase order status failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) deletePO(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.DeletePurchaseOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, "delete purchase order failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"message": "deleted", "purchaseOrder": po})
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	var filters ReceiptFilters
	var err error
	if filters.SupplierID, err = queryID(r, "supplierId"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filters.PurchaseOrderID, err = queryID(r, "purchaseOrderId"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipts, err := h.service.ListReceipts(r.Context(), filters)
	if err != nil {
		h.fail(w, r, "list receipts failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipts)
}

func (h *Handler) showReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get receipt failed", err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var in CreateReceiptInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt, err := h.service.CreateReceipt(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create receipt failed", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err), slog.String("path", r.URL.Path))
	httpx.RespondError(w, err)
}

func queryID(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, httpx.FieldErrors{name: "gt"}
	}
	return &id, nil
}
