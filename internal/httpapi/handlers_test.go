package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/locallog"
	"blankpos/backend/internal/service"
	"blankpos/backend/internal/store"
	"blankpos/backend/internal/store/memory"
)

const (
	testAdminEmail    = "admin@blankpos.local"
	testAdminPassword = "admin123"
)

// offlineSales keeps accounts working while every sales call fails, as when
// the sales table is unreachable.
type offlineSales struct {
	*memory.Store
}

func (offlineSales) InsertSale(context.Context, store.NewSale) (store.SaleRow, error) {
	return store.SaleRow{}, errors.New("dial tcp: connection refused")
}

func (offlineSales) ListSalesByUser(context.Context, string) ([]store.SaleRow, error) {
	return nil, errors.New("dial tcp: connection refused")
}

// newTestAPI builds a full API with in-memory stores, a real AuthManager and
// a real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	repo := memory.NewSeeded(testAdminEmail, testAdminPassword, nil)
	return newTestAPIWithRemote(t, repo, repo)
}

func newTestAPIWithRemote(t *testing.T, remote store.SalesStore, users store.UserStore) *API {
	t.Helper()
	svc := service.New(service.Deps{
		Remote: remote,
		Users:  users,
		Local:  locallog.New(locallog.NewMemoryKV(), "", nil),
	})
	auth := NewAuthManager("test-secret-key-test-secret-key!", time.Hour, users)
	return New(svc, auth, "*", nil)
}

func doJSON(t *testing.T, api *API, method string, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload == nil {
		body = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decode[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, res.Body.String())
	}
	return out
}

// fillCart creates a cart with two coffees and a custom amount, 9.48 total.
func fillCart(t *testing.T, api *API, token string, csrf string) string {
	t.Helper()
	res := doJSON(t, api, http.MethodPost, "/api/v1/carts", token, csrf, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("create cart expected 201, got %d", res.Code)
	}
	cartID := decode[domain.CartView](t, res).ID

	for i := 0; i < 2; i++ {
		res = doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/items", token, csrf, domain.AddItemRequest{Name: "Coffee", UnitPrice: "3.99"})
		if res.Code != http.StatusOK {
			t.Fatalf("add item expected 200, got %d (body: %s)", res.Code, res.Body.String())
		}
	}
	res = doJSON(t, api, http.MethodPut, "/api/v1/carts/"+cartID+"/custom-amount", token, csrf, domain.CustomAmountRequest{Raw: "1.50"})
	if res.Code != http.StatusOK {
		t.Fatalf("custom amount expected 200, got %d", res.Code)
	}
	view := decode[domain.CartView](t, res)
	if len(view.Items) != 1 || view.Items[0].Quantity != 2 {
		t.Fatalf("expected one merged line with quantity 2, got %+v", view.Items)
	}
	if view.TotalAmount.StringFixed(2) != "9.48" {
		t.Fatalf("expected total 9.48, got %s", view.TotalAmount.StringFixed(2))
	}
	return cartID
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/api/v1/healthz"} {
		res := doJSON(t, api, http.MethodGet, path, "", "", nil)
		if res.Code != http.StatusOK {
			t.Fatalf("%s expected 200, got %d", path, res.Code)
		}
		body := decode[map[string]any](t, res)
		if body["ok"] != true {
			t.Fatalf("expected ok:true, got %v", body["ok"])
		}
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	api := newTestAPI(t)
	token := registerAndLogin(t, api, "Cashier@Example.com")

	res := doJSON(t, api, http.MethodGet, "/api/v1/auth/me", token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("me expected 200, got %d", res.Code)
	}
	me := decode[map[string]any](t, res)
	if me["email"] != "cashier@example.com" {
		t.Fatalf("expected normalized email, got %v", me["email"])
	}
	if _, leaked := me["password"]; leaked {
		t.Fatalf("password hash must not be serialized")
	}

	login(t, api, "cashier@example.com", "secret123")

	dup := doJSON(t, api, http.MethodPost, "/api/v1/auth/register", "", "", domain.RegisterRequest{Email: "cashier@example.com", Password: "secret123"})
	if dup.Code != http.StatusConflict {
		t.Fatalf("duplicate register expected 409, got %d", dup.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodPost, "/api/v1/auth/register", "", "", domain.RegisterRequest{Email: "not-an-email", Password: "secret123"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("bad email expected 400, got %d", res.Code)
	}
	res = doJSON(t, api, http.MethodPost, "/api/v1/auth/register", "", "", domain.RegisterRequest{Email: "a@example.com", Password: "123"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("short password expected 400, got %d", res.Code)
	}
}

func TestMeRequiresToken(t *testing.T) {
	api := newTestAPI(t)
	res := doJSON(t, api, http.MethodGet, "/api/v1/auth/me", "", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestCheckoutFlowForSignedInUser(t *testing.T) {
	api := newTestAPI(t)
	token := registerAndLogin(t, api, "cashier@example.com")
	csrf := fetchCSRFToken(t, api)
	cartID := fillCart(t, api, token, csrf)

	res := doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", token, csrf, domain.CheckoutRequest{PaymentMethod: "card"})
	if res.Code != http.StatusCreated {
		t.Fatalf("checkout expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	result := decode[domain.CommitResult](t, res)
	if !result.OK || result.Source != domain.SourceRemote || result.ID == "" {
		t.Fatalf("unexpected commit result %+v", result)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/carts/"+cartID, token, "", nil)
	if view := decode[domain.CartView](t, res); len(view.Items) != 0 || !view.TotalAmount.IsZero() {
		t.Fatalf("expected cart cleared after checkout, got %+v", view)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales?period=daily", token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("report expected 200, got %d", res.Code)
	}
	report := decode[domain.SalesReport](t, res)
	if report.Summary.Count != 1 || report.Summary.TotalAmount.StringFixed(2) != "9.48" || report.Degraded {
		t.Fatalf("unexpected report %+v", report.Summary)
	}
	if len(report.Sales) != 1 || len(report.Sales[0].LineItems) != 1 {
		t.Fatalf("expected line items on the reported sale, got %+v", report.Sales)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+result.ID, token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("sale lookup expected 200, got %d", res.Code)
	}

	other := registerAndLogin(t, api, "other@example.com")
	res = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+result.ID, other, "", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("foreign sale lookup expected 404, got %d", res.Code)
	}
	res = doJSON(t, api, http.MethodGet, "/api/v1/carts/"+cartID, other, "", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("foreign cart expected 404, got %d", res.Code)
	}
}

func TestGuestCheckoutStoresLocally(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)
	cartID := fillCart(t, api, "", csrf)

	res := doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", "", csrf, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("guest checkout expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	result := decode[domain.CommitResult](t, res)
	if result.Source != domain.SourceLocal || !strings.HasPrefix(result.ID, "local-") || result.Notice == "" {
		t.Fatalf("unexpected guest result %+v", result)
	}
	if result.Sale == nil || result.Sale.PaymentMethod != "card" {
		t.Fatalf("expected default card payment method, got %+v", result.Sale)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales", "", "", nil)
	if report := decode[domain.SalesReport](t, res); report.Summary.Count != 1 || report.UserID != domain.GuestUserID {
		t.Fatalf("unexpected guest report %+v", report)
	}
}

func TestCheckoutFallsBackWhenRemoteDown(t *testing.T) {
	users := memory.New()
	api := newTestAPIWithRemote(t, offlineSales{users}, users)
	token := registerAndLogin(t, api, "cashier@example.com")
	csrf := fetchCSRFToken(t, api)
	cartID := fillCart(t, api, token, csrf)

	res := doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", token, csrf, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("checkout expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	result := decode[domain.CommitResult](t, res)
	if result.Source != domain.SourceLocal {
		t.Fatalf("expected local fallback, got %+v", result)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales?period=yearly", token, "", nil)
	report := decode[domain.SalesReport](t, res)
	if !report.Degraded || report.Summary.Count != 1 || report.Sales[0].ID != result.ID {
		t.Fatalf("expected degraded report with the local sale, got %+v", report)
	}
}

func TestCheckoutEmptyCartReturns422(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)

	res := doJSON(t, api, http.MethodPost, "/api/v1/carts", "", csrf, nil)
	cartID := decode[domain.CartView](t, res).ID

	res = doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", "", csrf, nil)
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", res.Code)
	}
	if result := decode[domain.CommitResult](t, res); result.OK || result.Reason != "cart is empty" {
		t.Fatalf("unexpected failure result %+v", result)
	}
}

func TestCartItemEditing(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)
	cartID := fillCart(t, api, "", csrf)

	res := doJSON(t, api, http.MethodGet, "/api/v1/carts/"+cartID, "", "", nil)
	itemID := decode[domain.CartView](t, res).Items[0].ID

	res = doJSON(t, api, http.MethodPatch, "/api/v1/carts/"+cartID+"/items/"+itemID, "", csrf, domain.UpdateQuantityRequest{Quantity: 0})
	if view := decode[domain.CartView](t, res); view.Items[0].Quantity != 1 {
		t.Fatalf("expected quantity clamped to 1, got %d", view.Items[0].Quantity)
	}

	res = doJSON(t, api, http.MethodPut, "/api/v1/carts/"+cartID+"/custom-amount", "", csrf, domain.CustomAmountRequest{Raw: "12."})
	view := decode[domain.CartView](t, res)
	if view.CustomAmountDraft != "12." || view.TotalAmount.StringFixed(2) != "15.99" {
		t.Fatalf("unexpected custom amount handling %+v", view)
	}

	res = doJSON(t, api, http.MethodDelete, "/api/v1/carts/"+cartID+"/items/"+itemID, "", csrf, nil)
	if view := decode[domain.CartView](t, res); len(view.Items) != 0 {
		t.Fatalf("expected item removed, got %+v", view.Items)
	}

	res = doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/items", "", csrf, domain.AddItemRequest{Name: "Tea", UnitPrice: "-1"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("negative price expected 400, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodDelete, "/api/v1/carts/"+cartID, "", csrf, nil)
	if view := decode[domain.CartView](t, res); !view.TotalAmount.IsZero() || view.CustomAmountDraft != "" {
		t.Fatalf("expected cleared cart, got %+v", view)
	}
}

func TestReceiptFormats(t *testing.T) {
	api := newTestAPI(t)
	token := registerAndLogin(t, api, "cashier@example.com")
	csrf := fetchCSRFToken(t, api)
	cartID := fillCart(t, api, token, csrf)
	res := doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", token, csrf, nil)
	saleID := decode[domain.CommitResult](t, res).ID

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+saleID+"/receipt", token, "", nil)
	receipt := decode[domain.ReceiptResponse](t, res)
	if !strings.Contains(receipt.PreviewText, "TOTAL: £9.48") || !strings.Contains(receipt.PreviewText, "2 x £3.99 = £7.98") {
		t.Fatalf("unexpected receipt text:\n%s", receipt.PreviewText)
	}
	raw, err := base64.StdEncoding.DecodeString(receipt.EscposBase64)
	if err != nil || len(raw) < 2 || raw[0] != 0x1b || raw[1] != 0x40 {
		t.Fatalf("expected ESC/POS payload, err=%v", err)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+saleID+"/receipt?format=text", token, "", nil)
	if !strings.Contains(res.Header().Get("Content-Disposition"), receipt.FileName) {
		t.Fatalf("expected text attachment named %s, got %q", receipt.FileName, res.Header().Get("Content-Disposition"))
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+saleID+"/receipt?format=escpos", token, "", nil)
	if res.Header().Get("Content-Type") != "application/octet-stream" || !bytes.Equal(res.Body.Bytes(), raw) {
		t.Fatalf("unexpected escpos download")
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales/"+saleID+"/receipt?format=pdf", token, "", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("unsupported format expected 400, got %d", res.Code)
	}
}

func TestSalesExportCSV(t *testing.T) {
	api := newTestAPI(t)
	token := registerAndLogin(t, api, "cashier@example.com")
	csrf := fetchCSRFToken(t, api)
	cartID := fillCart(t, api, token, csrf)
	doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", token, csrf, nil)

	res := doJSON(t, api, http.MethodGet, "/api/v1/sales/export.csv?period=monthly", token, "", nil)
	if res.Code != http.StatusOK || !strings.HasPrefix(res.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected export response %d %q", res.Code, res.Header().Get("Content-Type"))
	}
	rows, err := csv.NewReader(res.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header, one sale and summary, got %d rows", len(rows))
	}
	if rows[1][3] != "2" || rows[1][4] != "1.50" || rows[1][5] != "9.48" {
		t.Fatalf("unexpected sale row %v", rows[1])
	}
	if rows[2][0] != "summary" || rows[2][5] != "9.48" {
		t.Fatalf("unexpected summary row %v", rows[2])
	}
}

func TestUnknownPeriodRejected(t *testing.T) {
	api := newTestAPI(t)
	res := doJSON(t, api, http.MethodGet, "/api/v1/sales?period=hourly", "", "", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestResetSales(t *testing.T) {
	api := newTestAPI(t)
	token := registerAndLogin(t, api, "cashier@example.com")
	csrf := fetchCSRFToken(t, api)
	cartID := fillCart(t, api, token, csrf)
	doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", token, csrf, nil)

	res := doJSON(t, api, http.MethodDelete, "/api/v1/sales", "", csrf, domain.ResetSalesRequest{Password: "secret123"})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("guest reset expected 401, got %d", res.Code)
	}
	res = doJSON(t, api, http.MethodDelete, "/api/v1/sales", token, csrf, domain.ResetSalesRequest{Password: "nope-nope"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("wrong password expected 403, got %d", res.Code)
	}

	res = doJSON(t, api, http.MethodDelete, "/api/v1/sales", token, csrf, domain.ResetSalesRequest{Password: "secret123"})
	if res.Code != http.StatusOK {
		t.Fatalf("reset expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	resp := decode[domain.ResetSalesResponse](t, res)
	if resp.RemoteRows != 1 || resp.LocalEntries != 1 {
		t.Fatalf("unexpected reset counts %+v", resp)
	}

	res = doJSON(t, api, http.MethodGet, "/api/v1/sales?period=yearly", token, "", nil)
	if report := decode[domain.SalesReport](t, res); report.Summary.Count != 0 {
		t.Fatalf("expected no sales after reset, got %d", report.Summary.Count)
	}
}

func TestAdminUserSalesTotals(t *testing.T) {
	api := newTestAPI(t)
	token := registerAndLogin(t, api, "cashier@example.com")
	csrf := fetchCSRFToken(t, api)
	cartID := fillCart(t, api, token, csrf)
	doJSON(t, api, http.MethodPost, "/api/v1/carts/"+cartID+"/checkout", token, csrf, nil)

	if res := doJSON(t, api, http.MethodGet, "/api/v1/admin/sales/users", "", "", nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("guest expected 401, got %d", res.Code)
	}
	if res := doJSON(t, api, http.MethodGet, "/api/v1/admin/sales/users", token, "", nil); res.Code != http.StatusForbidden {
		t.Fatalf("non-admin expected 403, got %d", res.Code)
	}

	admin := login(t, api, testAdminEmail, testAdminPassword)
	res := doJSON(t, api, http.MethodGet, "/api/v1/admin/sales/users", admin, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("admin expected 200, got %d", res.Code)
	}
	body := decode[struct {
		Users []domain.UserSalesTotal `json:"users"`
	}](t, res)
	if len(body.Users) != 1 || body.Users[0].Email != "cashier@example.com" || body.Users[0].Count != 1 {
		t.Fatalf("unexpected totals %+v", body.Users)
	}
}
