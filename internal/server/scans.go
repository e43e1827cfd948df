package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/raysh454/ztguard/internal/logging"
	"github.com/raysh454/ztguard/internal/scanner"
	"github.com/raysh454/ztguard/internal/scoring"
	"github.com/raysh454/ztguard/internal/threat"
)

func (s *Server) scanRequest(r *http.Request, url string) scanner.Request {
	return scanner.Request{
		URL:       url,
		SourceIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var body ScanRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	rec, err := s.d.Scanner.Scan(r.Context(), s.scanRequest(r, body.URL))
	if err != nil {
		s.writeAppError(w, "scanning url", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleScanBatch(w http.ResponseWriter, r *http.Request) {
	var body BatchScanRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	items, err := s.d.Scanner.ScanBatch(r.Context(), body.URLs, s.scanRequest(r, ""))
	if err != nil {
		s.writeAppError(w, "scanning batch", err)
		return
	}
	resp := BatchScanResponse{Results: items, Total: len(items)}
	for _, it := range items {
		if it.Error != "" {
			resp.Failed++
		}
	}
	s.logger.Info("scanned batch", logging.Field{Key: "total", Value: resp.Total}, logging.Field{Key: "failed", Value: resp.Failed})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := threat.Filter{
		Search: q.Get("search"),
		Domain: q.Get("domain"),
	}
	var err error
	if f.Page, err = intQuery(r, "page", 1); err != nil {
		s.writeAppError(w, "listing scans", err)
		return
	}
	if f.PageSize, err = intQuery(r, "page_size", threat.DefaultPageSize); err != nil {
		s.writeAppError(w, "listing scans", err)
		return
	}
	if f.IsPhishing, err = boolQuery(r, "is_phishing"); err != nil {
		s.writeAppError(w, "listing scans", err)
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
	if raw := q.Get("status"); raw != "" {
		st, err := threat.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = &st
	}

	page, err := s.d.Threats.List(r.Context(), f)
	if err != nil {
		s.writeAppError(w, "listing scans", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	rec, err := s.d.Threats.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeAppError(w, "getting scan", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.d.Threats.Delete(r.Context(), id); err != nil {
		s.writeAppError(w, "deleting scan", err)
		return
	}
	s.logger.Info("deleted scan", logging.Field{Key: "id", Value: id})
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleUpdateScanStatus(w http.ResponseWriter, r *http.Request) {
	var body StatusUpdateRequest
	if err := decodeBody(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	to, err := threat.ParseStatus(body.NewStatus)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.d.Threats.Transition(r.Context(), chi.URLParam(r, "id"), to)
	if err != nil {
		s.writeAppError(w, "updating scan status", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleScanStats(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 0)
	if err != nil {
		s.writeAppError(w, "scan stats", err)
		return
	}
	st, err := s.d.Threats.Stats(r.Context(), days)
	if err != nil {
		s.writeAppError(w, "scan stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleTopDomains(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 0)
	if err != nil {
		s.writeAppError(w, "top domains", err)
		return
	}
	limit, err := intQuery(r, "limit", threat.DefaultTopDomains)
	if err != nil {
		s.writeAppError(w, "top domains", err)
		return
	}
	top, err := s.d.Threats.TopDomains(r.Context(), days, limit)
	if err != nil {
		s.writeAppError(w, "top domains", err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}
