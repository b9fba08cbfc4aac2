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

func (s *Server) autoRepliesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		businessID, ok := requireBusinessID(w, r)
		if !ok {
			return
		}
		replies, err := s.st.ListAutoReplies(businessID)
		if err != nil {
			slog.Error("Server.autoRepliesHandler: failed to list auto replies", "error", err, "business_id", businessID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list auto replies"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(replies))

	case http.MethodPost:
		var a models.AutoReply
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			slog.Warn("Server.autoRepliesHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		if err := a.Validate(); err != nil {
			slog.Warn("Server.autoRepliesHandler: validation failed", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		a.ID = util.NewID("rep")
		a.CreatedAt = time.Now()
		if err := s.st.SaveAutoReply(a); err != nil {
			slog.Error("Server.autoRepliesHandler: failed to save auto reply", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save auto reply"))
			return
		}
		writeJSONResponse(w, http.StatusCreated, models.Success(a))

	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) autoReplyByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := strings.TrimPrefix(r.URL.Path, "/auto-replies/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Auto reply not found"))
		return
	}

	switch r.Method {
	case http.MethodPut:
		var a models.AutoReply
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			slog.Warn("Server.autoReplyByIDHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		a.ID = id
		if err := a.Validate(); err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		if err := s.st.SaveAutoReply(a); err != nil {
			slog.Error("Server.autoReplyByIDHandler: failed to save auto reply", "error", err, "reply_id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save auto reply"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(a))

	case http.MethodDelete:
		err := s.st.DeleteAutoReply(id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSONResponse(w, http.StatusNotFound, models.Error("Auto reply not found"))
		case err != nil:
			slog.Error("Server.autoReplyByIDHandler: failed to delete auto reply", "error", err, "reply_id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete auto reply"))
		default:
			writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Auto reply deleted", nil))
		}

	default:
		w.Header().Set("Allow", "PUT, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) businessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	rest := strings.TrimPrefix(r.URL.Path, "/businesses/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Business not found"))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		b, err := s.st.GetBusiness(id)
		if err != nil {
			slog.Error("Server.businessHandler: failed to get business", "error", err, "business_id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get business"))
			return
		}
		if b == nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Business not found"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(b))

	case action == "" && r.Method == http.MethodPut:
		var b models.Business
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			slog.Warn("Server.businessHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		b.ID = id
		now := time.Now()
		existing, err := s.st.GetBusiness(id)
		if err != nil {
			slog.Error("Server.businessHandler: failed to get business", "error", err, "business_id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get business"))
			return
		}
		if existing != nil {
			b.CreatedAt = existing.CreatedAt
		} else {
			b.CreatedAt = now
		}
		b.UpdatedAt = now
		if err := s.st.SaveBusiness(b); err != nil {
			slog.Error("Server.businessHandler: failed to save business", "error", err, "business_id", id)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save business"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(b))

	case action == "pause" && r.Method == http.MethodPost:
		s.setBotPaused(w, id, true)

	case action == "resume" && r.Method == http.MethodPost:
		s.setBotPaused(w, id, false)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// setBotPaused flips the bot pause switch for a business.
func (s *Server) setBotPaused(w http.ResponseWriter, businessID string, paused bool) {
	b, err := s.st.GetBusiness(businessID)
	if err != nil {
		slog.Error("Server.setBotPaused: failed to get business", "error", err, "business_id", businessID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get business"))
		return
	}
	if b == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Business not found"))
		return
	}
	b.BotPaused = paused
	b.UpdatedAt = time.Now()
	if err := s.st.SaveBusiness(*b); err != nil {
		slog.Error("Server.setBotPaused: failed to save business", "error", err, "business_id", businessID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save business"))
		return
	}
	slog.Info("Server.setBotPaused: bot pause updated", "business_id", businessID, "paused", paused)
	writeJSONResponse(w, http.StatusOK, models.Success(b))
}

func (s *Server) unansweredHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := requireBusinessID(w, r)
	if !ok {
		return
	}
	records, err := s.st.ListUnanswered(businessID)
	if err != nil {
		slog.Error("Server.unansweredHandler: failed to list unanswered messages", "error", err, "business_id", businessID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list unanswered messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := requireBusinessID(w, r)
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = models.MetricsDate(time.Now())
	}

	m, err := s.st.GetDailyMetrics(businessID, date)
	if err != nil {
		slog.Error("Server.metricsHandler: failed to get metrics", "error", err, "business_id", businessID, "date", date)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get metrics"))
		return
	}
	if m == nil {
		m = &models.DailyMetrics{BusinessID: businessID, Date: date}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(m))
}
