package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rzbill/keywatch/internal/expiry"
	"github.com/rzbill/keywatch/internal/runtime"
	"github.com/rzbill/keywatch/pkg/log"
)

// defaultPendingLimit bounds /v1/pending when no limit is given.
const defaultPendingLimit = 100

// maxTTLMs is the largest ttlMs that fits a time.Duration.
const maxTTLMs = math.MaxInt64 / int64(time.Millisecond)

// WatchesController exposes the registrar, the delayed index and on-demand
// compensation.
type WatchesController struct {
	rt     *runtime.Runtime
	logger log.Logger
}

// NewWatchesController creates a new watches controller.
func NewWatchesController(rt *runtime.Runtime, logger log.Logger) *WatchesController {
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	return &WatchesController{rt: rt, logger: logger.WithComponent("http")}
}

// RegisterRoutes registers the watch routes with the given mux.
func (c *WatchesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/watch", c.handleWatch)
	mux.HandleFunc("/v1/pending", c.handlePending)
	mux.HandleFunc("/v1/compensate", c.handleCompensate)
}

// handleWatch stores a value with a TTL and indexes its deadline.
//
// Expects {"key": "...", "value": "<base64>", "ttlMs": 60000}. A zero ttlMs
// stores the key without expiration. Returns 201 Created.
func (c *WatchesController) handleWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req watchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TTLMs > maxTTLMs {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("ttlMs must not exceed %d", maxTTLMs))
		return
	}
	ttl := time.Duration(req.TTLMs) * time.Millisecond
	if err := c.rt.Registrar().Watch(r.Context(), req.Key, req.Value, ttl); err != nil {
		if errors.Is(err, expiry.ErrEmptyKey) || errors.Is(err, expiry.ErrNegativeTTL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c.logger.Error("watch failed", log.Str("key", req.Key), log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to register watch")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(watchResp{Key: req.Key, Indexed: ttl > 0})
}

// handlePending lists index entries in deadline order.
//
// Query parameters: limit (default 100).
func (c *WatchesController) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = defaultPendingLimit
	}
	entries, err := c.rt.Index().Entries(r.Context(), limit)
	if err != nil {
		c.logger.Error("list pending failed", log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to read index")
		return
	}
	if entries == nil {
		entries = []expiry.Entry{}
	}
	writeJSON(w, pendingResp{Index: c.rt.Index().Name(), Entries: entries})
}

// handleCompensate runs one compensation pass and returns its result.
func (c *WatchesController) handleCompensate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	res, err := c.rt.Compensator().RunOnce(r.Context())
	if err != nil {
		c.logger.Error("compensation pass failed", log.Err(err))
		writeError(w, http.StatusInternalServerError, "Compensation pass failed")
		return
	}
	writeJSON(w, res)
}
