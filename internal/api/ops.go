package api

import (
	"encoding/json"
	"net/http"

	"github.com/shadowhunter/backend/internal/probe"
	"github.com/shadowhunter/backend/internal/response"
)

func (s *Server) handleBlocked(w http.ResponseWriter, r *http.Request) {
	blocked := s.respond.Blocked()
	if blocked == nil {
		blocked = []*response.BlockEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blocked": blocked,
		"count":   len(blocked),
	})
}

func (s *Server) handleResponseStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.respond.Stats())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"audit": s.respond.Audit(50),
	})
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
		writeError(w, http.StatusBadRequest, "body must carry an ip field")
		return
	}
	if err := s.respond.UnblockIP(req.IP); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"unblocked": req.IP})
}

func (s *Server) handleProbeStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.prober.Stats())
}

func (s *Server) handleProbeRecent(w http.ResponseWriter, r *http.Request) {
	recent := s.prober.Recent()
	if recent == nil {
		recent = []*probe.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"probes": recent,
		"count":  len(recent),
	})
}
