package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/network"
)

func (s *Server) handleRecordConnection(w http.ResponseWriter, r *http.Request) {
	var body ConnectionRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	c, err := s.d.Network.Record(r.Context(), network.Connection{
		SourceIP:          body.SourceIP,
		DestinationIP:     body.DestinationIP,
		DestinationDomain: body.DestinationDomain,
		DestinationPort:   body.DestinationPort,
		Protocol:          body.Protocol,
		BytesSent:         body.BytesSent,
		BytesReceived:     body.BytesReceived,
	})
	if err != nil {
		s.writeAppError(w, "recording connection", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", network.DefaultListLimit)
	if err != nil {
		s.writeAppError(w, "listing connections", err)
		return
	}
	list, err := s.d.Network.List(r.Context(), limit)
	if err != nil {
		s.writeAppError(w, "listing connections", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
	hours, err := intQuery(r, "hours", 0)
	if err != nil {
		s.writeAppError(w, "network stats", err)
		return
	}
	st, err := s.d.Network.Stats(r.Context(), hours)
	if err != nil {
		s.writeAppError(w, "network stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleBlockIP(w http.ResponseWriter, r *http.Request) {
	var body BlockRequest
	if err := decodeBody(r, &body, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	b, err := s.d.Network.Block(r.Context(), chi.URLParam(r, "ip"), body.Reason)
	if err != nil {
		s.writeAppError(w, "blocking ip", err)
		return
	}
	s.logger.Info("blocked ip", logging.Field{Key: "ip", Value: b.IP})
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if err := s.d.Network.Unblock(r.Context(), ip); err != nil {
		s.writeAppError(w, "unblocking ip", err)
		return
	}
	s.logger.Info("unblocked ip", logging.Field{Key: "ip", Value: ip})
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleBlockedIPs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.d.Network.Blocked())
}
