package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/store"
)

// orderStatusRequest is the body of a status transition request.
type orderStatusRequest struct {
	BusinessID string             `json:"business_id"`
	Status     models.OrderStatus `json:"status"`
	Reason     string             `json:"reason,omitempty"`
}

func (s *Server) ordersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := requireBusinessID(w, r)
	if !ok {
		return
	}
	orderList, err := s.st.ListOrders(businessID)
	if err != nil {
		slog.Error("Server.ordersHandler: failed to list orders", "error", err, "business_id", businessID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list orders"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orderList))
}

func (s *Server) orderByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rest := strings.TrimPrefix(r.URL.Path, "/orders/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Order not found"))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		o, err := s.st.GetOrder(id)
		if err != nil {
			slog.Error("Server.orderByIDHandler: failed to get order", "error", err, "order_id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get order"))
			return
		}
		if o == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Order not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(o))

	case action == "status" && r.Method == http.MethodPost:
		s.orderStatusHandler(w, r, id)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) orderStatusHandler(w http.ResponseWriter, r *http.Request, orderID string) {
	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.orderStatusHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.BusinessID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("business_id is required"))
		return
	}
	if !models.IsValidOrderStatus(req.Status) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid order status"))
		return
	}

	o, err := s.orders.TransitionOrder(r.Context(), req.BusinessID, orderID, req.Status, req.Reason)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Order not found"))
	case errors.Is(err, models.ErrInvalidStatusTransition), errors.Is(err, models.ErrOrderTerminal):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	case err != nil:
		slog.Error("Server.orderStatusHandler: transition failed", "error", err, "order_id", orderID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update order status"))
	default:
		slog.Info("Server.orderStatusHandler: order status updated", "order_id", orderID, "status", req.Status)
		writeJSONResponse(w, http.StatusOK, models.Success(o))
	}
}

func (s *Server) orderConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		businessID, ok := requireBusinessID(w, r)
		if !ok {
			return
		}
		cfg, err := s.st.GetOrderConfig(businessID)
		if err != nil {
			slog.Error("Server.orderConfigHandler: failed to get config", "error", err, "business_id", businessID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get order config"))
			return
		}
		if cfg == nil {
			cfg = &models.OrderConfig{BusinessID: businessID}
		}
		writeJSONResponse(w, http.StatusOK, models.Success(cfg))

	case http.MethodPut:
		var cfg models.OrderConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			slog.Warn("Server.orderConfigHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if cfg.BusinessID == "" {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("business_id is required"))
			return
		}
		if err := s.st.SaveOrderConfig(cfg); err != nil {
			slog.Error("Server.orderConfigHandler: failed to save config", "error", err, "business_id", cfg.BusinessID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save order config"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(cfg))

	default:
		w.Header().Set("Allow", "GET, PUT")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
