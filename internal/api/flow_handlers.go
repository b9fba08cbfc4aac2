package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nrojasv/ventabot/internal/models"
	"github.com/nrojasv/ventabot/internal/store"
	"github.com/nrojasv/ventabot/internal/util"
)

func (s *Server) flowsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		businessID, ok := requireBusinessID(w, r)
		if !ok {
			return
		}
		flows, err := s.st.ListFlows(businessID)
		if err != nil {
			slog.Error("Server.flowsHandler: failed to list flows", "error", err, "business_id", businessID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list flows"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(flows))

	case http.MethodPost:
		var f models.FlowDefinition
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			slog.Warn("Server.flowsHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := f.Validate(); err != nil {
			slog.Warn("Server.flowsHandler: validation failed", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		now := time.Now()
		f.ID = util.NewID("flow")
		f.IsDefault = false
		f.CreatedAt = now
		f.UpdatedAt = now
		if err := s.st.SaveFlow(f); err != nil {
			slog.Error("Server.flowsHandler: failed to save flow", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow"))
			return
		}
		slog.Info("Server.flowsHandler: flow created", "flow_id", f.ID, "business_id", f.BusinessID)
		writeJSONResponse(w, http.StatusCreated, models.Success(f))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) flowByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := strings.TrimPrefix(r.URL.Path, "/flows/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		f, err := s.st.GetFlow(id)
		if err != nil {
			slog.Error("Server.flowByIDHandler: failed to get flow", "error", err, "flow_id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get flow"))
			return
		}
		if f == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(f))

	case http.MethodPut:
		existing, err := s.st.GetFlow(id)
		if err != nil {
			slog.Error("Server.flowByIDHandler: failed to get flow", "error", err, "flow_id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get flow"))
			return
		}
		if existing == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
			return
		}
		var f models.FlowDefinition
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			slog.Warn("Server.flowByIDHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		f.ID = existing.ID
		f.BusinessID = existing.BusinessID
		f.IsDefault = existing.IsDefault
		f.CreatedAt = existing.CreatedAt
		f.UpdatedAt = time.Now()
		if err := f.Validate(); err != nil {
			slog.Warn("Server.flowByIDHandler: validation failed", "error", err, "flow_id", id)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if err := s.st.SaveFlow(f); err != nil {
			slog.Error("Server.flowByIDHandler: failed to save flow", "error", err, "flow_id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(f))

	case http.MethodDelete:
		err := s.st.DeleteFlow(id)
		switch {
		case errors.Is(err, store.ErrBuiltinFlow):
			writeJSONResponse(w, http.StatusConflict, models.Error("Built-in flows cannot be deleted"))
		case errors.Is(err, store.ErrNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		case err != nil:
			slog.Error("Server.flowByIDHandler: failed to delete flow", "error", err, "flow_id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete flow"))
		default:
			slog.Info("Server.flowByIDHandler: flow deleted", "flow_id", id)
			writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow deleted", nil))
		}

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
