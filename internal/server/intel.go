package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raysh454/ztguard/internal/intel"
	"github.com/raysh454/ztguard/internal/logging"
)

func (s *Server) handleIntel(w http.ResponseWriter, r *http.Request) {
	lists := s.d.Intel.Lists()
	st := s.d.Intel.Stats()
	resp := IntelResponse{
		Blacklist:      lists.Blacklist,
		Whitelist:      lists.Whitelist,
		BlacklistCount: st.BlacklistCount,
		WhitelistCount: st.WhitelistCount,
	}
	if st.LastUpdate != nil {
		ts := st.LastUpdate.UTC().Format(time.RFC3339)
		resp.LastUpdate = &ts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIntelCheck(w http.ResponseWriter, r *http.Request) {
	d := strings.TrimSpace(r.URL.Query().Get("domain"))
	if d == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	writeJSON(w, http.StatusOK, s.d.Intel.Check(d))
}

func (s *Server) handleIntelRefresh(w http.ResponseWriter, r *http.Request) {
	n, err := s.d.Intel.Refresh(r.Context())
	if err != nil {
		s.logger.Warn("refreshing intel feed", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"domains": n})
}

func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	s.addIntel(w, r, intel.Blacklist)
}

func (s *Server) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	s.addIntel(w, r, intel.Whitelist)
}

func (s *Server) addIntel(w http.ResponseWriter, r *http.Request, list intel.List) {
	var body DomainRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	add := s.d.Intel.AddBlacklist
	if list == intel.Whitelist {
		add = s.d.Intel.AddWhitelist
	}
	if err := add(r.Context(), body.Domain); err != nil {
		s.writeAppError(w, "adding intel domain", err)
		return
	}
	writeJSON(w, http.StatusCreated, intel.Entry{Domain: intel.Normalize(body.Domain), List: list, Source: "manual"})
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	s.removeIntel(w, r, intel.Blacklist)
}

func (s *Server) handleRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	s.removeIntel(w, r, intel.Whitelist)
}

func (s *Server) removeIntel(w http.ResponseWriter, r *http.Request, list intel.List) {
	d := chi.URLParam(r, "domain")
	remove := s.d.Intel.RemoveBlacklist
	if list == intel.Whitelist {
		remove = s.d.Intel.RemoveWhitelist
	}
	if err := remove(r.Context(), d); err != nil {
		s.writeAppError(w, "removing intel domain", err)
		return
	}
	s.logger.Info("removed intel domain", logging.Field{Key: "list", Value: string(list)}, logging.Field{Key: "domain", Value: d})
	writeJSON(w, http.StatusNoContent, nil)
}
