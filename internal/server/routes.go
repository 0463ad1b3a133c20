package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rcliao/memtier/internal/assemble"
	"github.com/rcliao/memtier/internal/memory"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/retrieve"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    time.Since(s.started).Seconds(),
		"backend":   cfg.Database.Backend,
		"embedding": cfg.Embedding.Provider,
		"rerank":    s.engine.CanRerank(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req memory.StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Text == "" {
		badRequest(w, "text required")
		return
	}

	res, err := s.engine.Store(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Rejected {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := s.engine.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": deleted})
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Promote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePutEntity(w http.ResponseWriter, r *http.Request) {
	var req memory.EntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Text == "" {
		badRequest(w, "text required")
		return
	}

	res, err := s.engine.PutEntity(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Rejected {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	entityType := chi.URLParam(r, "type")
	scope := scopeFromQuery(r)

	if history, _ := strconv.ParseBool(r.URL.Query().Get("history")); history {
		records, err := s.engine.EntityHistory(r.Context(), name, entityType, scope)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if records == nil {
			records = []model.Record{}
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	rec, err := s.engine.LookupEntity(r.Context(), name, entityType, scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type searchRequest struct {
	retrieve.Query
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Text == "" {
		badRequest(w, "query required")
		return
	}

	ctx, cancel := withTimeout(r.Context(), req.TimeoutMS)
	defer cancel()
	res, err := s.engine.Search(ctx, req.Query)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Records == nil {
		res.Records = []model.RankedRecord{}
	}
	writeJSON(w, http.StatusOK, res)
}

type contextRequest struct {
	assemble.Request
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	if req.Query == "" {
		badRequest(w, "query required")
		return
	}

	ctx, cancel := withTimeout(r.Context(), req.TimeoutMS)
	defer cancel()
	res, err := s.engine.BuildContext(ctx, req.Request)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var tier model.Tier
	if name := chi.URLParam(r, "tier"); name != "all" {
		t, err := model.ParseTier(name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		tier = t
	}

	n, err := s.engine.SweepExpired(r.Context(), tier)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": chi.URLParam(r, "tier"), "removed": n})
}

func scopeFromQuery(r *http.Request) model.Scope {
	q := r.URL.Query()
	return model.Scope{
		UserID:  q.Get("user_id"),
		AgentID: q.Get("agent_id"),
		RunID:   q.Get("run_id"),
	}
}

func withTimeout(ctx context.Context, ms int) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}
