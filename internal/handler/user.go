package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/content-settlement/internal/middleware"
)

type balanceResponse struct {
	Points int64 `json:"points"`
}

// GetBalance возвращает баланс баллов текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	points, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{Points: points})
}

type orderItemResponse struct {
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type orderResponse struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	TotalCents int64               `json:"total_cents"`
	Items      []orderItemResponse `json:"items"`
	CreatedAt  string              `json:"created_at"`
}

// GetOrders возвращает заказы текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetUserOrders(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items := make([]orderItemResponse, 0, len(o.Items))
		for _, it := range o.Items {
			items = append(items, orderItemResponse{
				ProductID:      it.ProductID,
				Quantity:       it.Quantity,
				UnitPriceCents: it.UnitPriceCents,
			})
		}
		resp = append(resp, orderResponse{
			ID:         o.ID,
			Status:     string(o.Status),
			TotalCents: o.TotalCents,
			Items:      items,
			CreatedAt:  o.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type transactionResponse struct {
	ID          int64  `json:"id"`
	Amount      int64  `json:"amount"`
	Type        string `json:"type"`
	Description string `json:"description"`
	PackageID   string `json:"package_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// GetTransactions возвращает историю изменений баланса текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	txns, err := h.service.GetUserTransactions(r.Context(), userID)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(txns) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		resp = append(resp, transactionResponse{
			ID:          t.ID,
			Amount:      t.Amount,
			Type:        string(t.Type),
			Description: t.Description,
			PackageID:   t.PackageID,
			CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListEvents возвращает последние записи журнала обработки событий.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.service.RecentEvents(r.Context(), limit)
	if err != nil {
		h.logger.Error("list webhook events error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(records) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, records)
}
