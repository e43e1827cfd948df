package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/raysh454/ztguard/internal/alerts"
	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/scoring"
)

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   alerts.Filter
		err error
	)
	if f.Page, err = intQuery(r, "page", 1); err != nil {
		s.writeAppError(w, "listing alerts", err)
		return
	}
	if f.PageSize, err = intQuery(r, "page_size", alerts.DefaultPageSize); err != nil {
		s.writeAppError(w, "listing alerts", err)
		return
	}
	if f.IsRead, err = boolQuery(r, "is_read"); err != nil {
		s.writeAppError(w, "listing alerts", err)
		return
	}
	if f.IsAcknowledged, err = boolQuery(r, "is_acknowledged"); err != nil {
		s.writeAppError(w, "listing alerts", err)
		return
	}
	if raw := q.Get("severity"); raw != "" {
		sev, err := scoring.ParseSeverity(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Severity = &sev
	}
	if raw := q.Get("alert_type"); raw != "" {
		t, err := alerts.ParseType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Type = &t
	}
	if raw := q.Get("since"); raw != "" {
		if f.Since, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 time")
			return
		}
	}

	page, err := s.d.Alerts.List(r.Context(), f)
	if err != nil {
		s.writeAppError(w, "listing alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var body CreateAlertRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sev, err := scoring.ParseSeverity(body.Severity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev := alerts.Event{
		Title:       body.Title,
		Description: body.Description,
		Severity:    sev,
		EntityKey:   body.EntityKey,
		Metadata:    body.Metadata,
	}
	if body.AlertType != "" {
		if ev.Type, err = alerts.ParseType(body.AlertType); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	a, err := s.d.Alerts.Create(r.Context(), ev)
	if err != nil {
		s.writeAppError(w, "creating alert", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleUnreadAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", alerts.DefaultUnreadLimit)
	if err != nil {
		s.writeAppError(w, "listing unread alerts", err)
		return
	}
	list, err := s.d.Alerts.Unread(r.Context(), limit)
	if err != nil {
		s.writeAppError(w, "listing unread alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAlertCount(w http.ResponseWriter, r *http.Request) {
	c, err := s.d.Alerts.Count(r.Context())
	if err != nil {
		s.writeAppError(w, "counting alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleAlertTimeline(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", alerts.DefaultTimelineDays)
	if err != nil {
		s.writeAppError(w, "alert timeline", err)
		return
	}
	tl, err := s.d.Alerts.Timeline(r.Context(), days)
	if err != nil {
		s.writeAppError(w, "alert timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.d.Alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, "getting alert", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	var body AlertUpdateRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	a, err := s.d.Alerts.Update(r.Context(), chi.URLParam(r, "id"), alerts.Patch{
		IsRead:         body.IsRead,
		IsAcknowledged: body.IsAcknowledged,
	})
	if err != nil {
		s.writeAppError(w, "updating alert", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.d.Alerts.MarkAllRead(r.Context())
	if err != nil {
		s.writeAppError(w, "marking alerts read", err)
		return
	}
	s.logger.Info("marked alerts read", logging.Field{Key: "count", Value: n})
	writeJSON(w, http.StatusOK, CountResponse{Updated: n})
}

func (s *Server) handleAcknowledgeAll(w http.ResponseWriter, r *http.Request) {
	var body AcknowledgeAllRequest
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var sev *scoring.Severity
	if body.Severity != "" {
		v, err := scoring.ParseSeverity(body.Severity)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		sev = &v
	}

	n, err := s.d.Alerts.AcknowledgeAll(r.Context(), sev)
	if err != nil {
		s.writeAppError(w, "acknowledging alerts", err)
		return
	}
	s.logger.Info("acknowledged alerts", logging.Field{Key: "count", Value: n})
	writeJSON(w, http.StatusOK, CountResponse{Updated: n})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.d.Alerts.Delete(r.Context(), id); err != nil {
		s.writeAppError(w, "deleting alert", err)
		return
	}
	s.logger.Info("deleted alert", logging.Field{Key: "id", Value: id})
	writeJSON(w, http.StatusNoContent, nil)
}

// handleAlertsWS streams newly raised alerts until the client goes away.
func (s *Server) handleAlertsWS(w http.ResponseWriter, r *http.Request) {
	// subscribe first so nothing raised after the handshake is missed
	ch, cancel := s.d.Alerts.Subscribe()
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	// the client never sends; reading detects the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	s.logger.Info("alert stream opened", logging.Field{Key: "remote", Value: clientIP(r)})
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case a, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(a); err != nil {
				return
			}
		}
	}
}
