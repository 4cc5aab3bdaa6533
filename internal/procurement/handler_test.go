package procurement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procurement/internal/integration"
	"github.com/odyssey-erp/procurement/internal/integration/inventory"
)

func newTestRouter(t *testing.T) (http.Handler, *receiptFixture) {
	t.Helper()
	f := newReceiptFixture(t)
	h := NewHandler(nil, f.svc)
	r := chi.NewRouter()
	r.Route("/v1/purchase-orders", h.MountPurchaseOrderRoutes)
	r.Route("/v1/receipts", h.MountReceiptRoutes)
	return r, f
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerPurchaseOrderLifecycle(t *testing.T) {
	router, f := newTestRouter(t)
	supplier := strconv.FormatInt(f.supplierID, 10)

	rec := serve(router, http.MethodPost, "/v1/purchase-orders/",
		`{"supplierId":`+supplier+`,"warehouseId":7,"items":[{"externalProductId":100,"quantity":5,"unitCost":"10.00"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var po PurchaseOrder
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &po))
	require.Equal(t, "50.00", po.Total.StringFixed(2))
	require.Equal(t, POStatusDraft, po.Status)
	path := "/v1/purchase-orders/" + strconv.FormatInt(po.ID, 10)

	rec = serve(router, http.MethodPut, path+"/status", `{"toStatus":"received"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(router, http.MethodPut, path+"/status", `{"toStatus":"approved","reason":"ok"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"approved"`)

	rec = serve(router, http.MethodPut, path, `{"notes":"rush"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"notes":"rush"`)

	rec = serve(router, http.MethodGet, "/v1/purchase-orders/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"supplierName":"Acme"`)

	rec = serve(router, http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted struct {
		Message       string        `json:"message"`
		PurchaseOrder PurchaseOrder `json:"purchaseOrder"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deleted))
	require.Equal(t, "deleted", deleted.Message)
	require.Equal(t, po.ID, deleted.PurchaseOrder.ID)

	rec = serve(router, http.MethodGet, path, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerPurchaseOrderBadInput(t *testing.T) {
	router, f := newTestRouter(t)
	supplier := strconv.FormatInt(f.supplierID, 10)

	rec := serve(router, http.MethodPost, "/v1/purchase-orders/", `{"supplierId":`+supplier+`,"warehouseId":7,"items":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodPost, "/v1/purchase-orders/", `{"supplierId":999,"warehouseId":7,"items":[{"externalProductId":1,"quantity":1,"unitCost":"1"}]}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, http.MethodPost, "/v1/purchase-orders/", `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodGet, "/v1/purchase-orders/zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReceipts(t *testing.T) {
	router, f := newTestRouter(t)
	supplier := strconv.FormatInt(f.supplierID, 10)

	rec := serve(router, http.MethodPost, "/v1/receipts/",
		`{"supplierId":`+supplier+`,"warehouseId":7,"reference":"GRN-1","items":[{"externalProductId":100,"quantityReceived":10}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var receipt Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	require.Nil(t, receipt.PurchaseOrderID)
	require.Equal(t, "GRN-1", *receipt.Reference)
	f.settle(t)
	require.Len(t, f.inventory.adjustments, 1)

	rec = serve(router, http.MethodGet, "/v1/receipts/"+strconv.FormatInt(receipt.ID, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, "/v1/receipts/?supplierId="+supplier, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = serve(router, http.MethodGet, "/v1/receipts/?purchaseOrderId=abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodGet, "/v1/receipts/424242", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, http.MethodPost, "/v1/receipts/", `{"supplierId":`+supplier+`,"warehouseId":7,"items":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type slowInventory struct {
	delay time.Duration
}

func (s slowInventory) AdjustStock(ctx context.Context, adj inventory.StockAdjustment) integration.Outcome {
	time.Sleep(s.delay)
	return integration.OutcomeFailed
}

func TestHandlerReceiptRespondsBeforeSlowDownstream(t *testing.T) {
	repo := newMemoryProcRepo()
	supplierID := repo.addSupplier("Acme")
	dispatcher := NewDispatcher(repo, slowInventory{delay: 60 * time.Millisecond}, nil, 0, nil)
	svc := NewService(repo, dispatcher, &auditRecorder{}, nil)
	r := chi.NewRouter()
	r.Route("/v1/receipts", NewHandler(nil, svc).MountReceiptRoutes)

	srv := httptest.NewUnstartedServer(r)
	srv.Config.WriteTimeout = 150 * time.Millisecond
	srv.Start()
	defer srv.Close()

	items := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		items = append(items, fmt.Sprintf(`{"externalProductId":%d,"quantityReceived":1}`, 100+i))
	}
	body := fmt.Sprintf(`{"supplierId":%d,"warehouseId":7,"items":[%s]}`, supplierID, strings.Join(items, ","))

	resp, err := srv.Client().Post(srv.URL+"/v1/receipts/", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var receipt Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	require.Len(t, receipt.Items, 20)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Drain(ctx))
	intents := repo.intentsFor(receipt.ID)
	require.Len(t, intents, 20)
	for _, in := range intents {
		require.Equal(t, IntentFailed, in.Status)
	}
}
