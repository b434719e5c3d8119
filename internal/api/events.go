package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/tenere/internal/dispatcher"
	"github.com/MikeSquared-Agency/tenere/internal/ledger"
	"github.com/MikeSquared-Agency/tenere/internal/telegram"
)

// telegramWebhook handles POST /telegram/webhook. Replies are sent
// asynchronously, so Telegram always gets a quick 200 unless the event
// could not be processed at all.
func (s *Server) telegramWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	update, err := telegram.ParseUpdate(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev, ok := update.ToEvent()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	_, dup, err := s.processor.Process(r.Context(), ev)
	if err != nil {
		s.logger.Error("telegram update failed", "event_id", ev.ID, "owner", ev.OwnerID, "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	status := "ok"
	if dup {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// postEvent handles POST /api/v1/events and answers with the instruction.
func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	var ev dispatcher.Event
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if ev.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if ev.ID == "" {
		ev.ID = "api:" + middleware.GetReqID(r.Context())
	}
	ev.Channel = dispatcher.ChannelAPI

	in, dup, err := s.processor.Process(r.Context(), ev)
	if err != nil {
		s.logger.Error("api event failed", "event_id", ev.ID, "owner", ev.OwnerID, "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true, "event_id": ev.ID})
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// listEntries handles GET /api/v1/owners/{owner}/entries?from=&to=.
func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner := chi.URLParam(r, "owner")

	entries, err := s.reports.Entries(r.Context(), owner, rng)
	if err != nil {
		s.ledgerError(w, owner, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// economy handles GET /api/v1/owners/{owner}/economy?from=&to=.
func (s *Server) economy(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner := chi.URLParam(r, "owner")

	res, err := s.reports.Economy(r.Context(), owner, rng)
	if err != nil {
		s.ledgerError(w, owner, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) ledgerError(w http.ResponseWriter, owner string, err error) {
	s.logger.Error("ledger query failed", "owner", owner, "error", err)
	if errors.Is(err, ledger.ErrTimeout) {
		writeError(w, http.StatusGatewayTimeout, "ledger timed out")
		return
	}
	writeError(w, http.StatusInternalServerError, "ledger unavailable")
}

func parseRange(r *http.Request) (ledger.Range, error) {
	var rng ledger.Range
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ledger.Range{}, fmt.Errorf("invalid from timestamp: %w", err)
		}
		rng.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return ledger.Range{}, fmt.Errorf("invalid to timestamp: %w", err)
		}
		rng.To = t
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && !rng.From.Before(rng.To) {
		return ledger.Range{}, errors.New("from must be before to")
	}
	return rng, nil
}
