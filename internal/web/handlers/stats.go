package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/facepic/internal/catalog"
)

const statsCacheTTL = time.Minute

// statsCache holds cached stats with expiry.
type statsCache struct {
	mu        sync.RWMutex
	data      *catalog.Stats
	expiresAt time.Time
}

func (c *statsCache) get() (*catalog.Stats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *catalog.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

// StatsHandler serves catalogue-wide counts.
type StatsHandler struct {
	store catalog.Store
	cache statsCache
}

func NewStatsHandler(store catalog.Store) *StatsHandler {
	return &StatsHandler{store: store}
}

// Get returns counts for every collection.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if cached, ok := h.cache.get(); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	ctx := r.Context()
	stats := &catalog.Stats{}
	var err error
	if stats.Images, err = h.store.CountImages(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count images")
		return
	}
	if stats.Faces, err = h.store.CountFaces(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count faces")
		return
	}
	if stats.Persons, err = h.store.CountPersons(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count persons")
		return
	}
	if stats.Folders, err = h.store.CountFolders(ctx); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count folders")
		return
	}

	h.cache.set(stats)
	respondJSON(w, http.StatusOK, stats)
}
