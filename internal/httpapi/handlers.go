package httpapi

import (
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/money"
	"blankpos/backend/internal/period"
	"blankpos/backend/internal/receipt"
	"blankpos/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCSRFToken returns a stateless token valid for the current hour
// bucket. Mutating requests send it back in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many attempts"))
		return
	}
	var req domain.RegisterRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.auth.Register(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}
	var req domain.LoginRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInactiveAccount) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	account, err := a.auth.CurrentUser(r.Context(), actor.UserID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handleCreateCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, a.service.CreateCart(r.Context()))
}

func (a *API) handleGetCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetCart(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.ClearCart(r.Context(), chi.URLParam(r, "cartID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.AddItem(r.Context(), chi.URLParam(r, "cartID"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateQuantityRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.UpdateQuantity(r.Context(), chi.URLParam(r, "cartID"), chi.URLParam(r, "itemID"), req.Quantity)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RemoveItem(r.Context(), chi.URLParam(r, "cartID"), chi.URLParam(r, "itemID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSetCustomAmount(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomAmountRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.SetCustomAmount(r.Context(), chi.URLParam(r, "cartID"), req.Raw)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if r.ContentLength != 0 {
		if err := a.decodeAndValidate(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	result, err := a.service.Checkout(r.Context(), chi.URLParam(r, "cartID"), req)
	if err != nil {
		status := statusFor(err)
		reason := err.Error()
		if status >= 500 {
			a.logger.Error("checkout failed", zap.Error(err))
			reason = http.StatusText(status)
		}
		writeJSON(w, status, domain.CommitResult{OK: false, Reason: reason})
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) periodParam(r *http.Request) (domain.Period, error) {
	p, err := period.Parse(r.URL.Query().Get("period"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	return p, nil
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	p, err := a.periodParam(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.service.Report(r.Context(), p))
}

func (a *API) handleSalesExport(w http.ResponseWriter, r *http.Request) {
	p, err := a.periodParam(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	report := a.service.Report(r.Context(), p)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"sales-%s-%s.csv\"", p, report.GeneratedAt.Format("20060102")))
	w.WriteHeader(http.StatusOK)
	if err := writeReportCSV(w, report); err != nil {
		a.logger.Warn("csv export interrupted", zap.Error(err))
	}
}

func writeReportCSV(w http.ResponseWriter, report domain.SalesReport) error {
	out := csv.NewWriter(w)
	if err := out.Write([]string{"id", "created_at", "payment_method", "items", "custom_amount", "total"}); err != nil {
		return err
	}
	for _, sale := range report.Sales {
		items := 0
		for _, item := range sale.LineItems {
			items += item.Quantity
		}
		if err := out.Write([]string{
			sale.ID,
			sale.CreatedAt.UTC().Format(time.RFC3339),
			sale.PaymentMethod,
			strconv.Itoa(items),
			money.Fixed(sale.CustomAmount),
			money.Fixed(sale.TotalAmount),
		}); err != nil {
			return err
		}
	}
	if err := out.Write([]string{"summary", string(report.Period), "", strconv.Itoa(report.Summary.Count), "", money.Fixed(report.Summary.TotalAmount)}); err != nil {
		return err
	}
	out.Flush()
	return out.Error()
}

func (a *API) handleResetSales(w http.ResponseWriter, r *http.Request) {
	if !a.resetLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many attempts"))
		return
	}
	var req domain.ResetSalesRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ResetSales(r.Context(), req.Password)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.FindSale(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.Receipt(r.Context(), chi.URLParam(r, "saleID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))) {
	case "", "json":
		writeJSON(w, http.StatusOK, resp)
	case "text", "txt":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", resp.FileName))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(resp.PreviewText))
	case "escpos":
		raw, err := base64.StdEncoding.DecodeString(resp.EscposBase64)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"receipt-%s.bin\"", receipt.ShortID(resp.SaleID)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	default:
		writeError(w, http.StatusBadRequest, errors.New("format must be json, text or escpos"))
	}
}

func (a *API) handleUserSalesTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := a.service.UserSalesTotals(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": totals})
}
