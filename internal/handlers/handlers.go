// Package handlers exposes the tracker state over a small HTTP API:
// current dataset, last-run statistics and a manual run trigger.
package handlers

import (
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"cian-tracker/internal/models"
	"cian-tracker/internal/store"

	"github.com/gin-gonic/gin"
)

// Dataset is the read side of the persisted listings.
type Dataset interface {
	Load() ([]models.Listing, error)
}

// RunStatus reports scheduler state for the status endpoint.
type RunStatus interface {
	Status() (lastRun time.Time, running bool, lastErr error)
	RunNow() error
}

// Handler serves the tracker API.
type Handler struct {
	dataset   Dataset
	csv       *store.CSVStore
	scheduler RunStatus
}

// NewHandler creates a handler over the dataset. csv may carry the same
// store as dataset; it is used for the metadata and stats sidecars and
// may be nil. scheduler may be nil when scheduling is disabled.
func NewHandler(dataset Dataset, csv *store.CSVStore, scheduler RunStatus) *Handler {
	return &Handler{dataset: dataset, csv: csv, scheduler: scheduler}
}

// Register mounts the API routes on the router.
func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/status", h.GetStatus)
		api.GET("/stats", h.GetStats)
		api.GET("/listings", h.GetListings)
		api.POST("/run", h.TriggerRun)
	}
}

// GetStatus returns dataset metadata and scheduler state.
func (h *Handler) GetStatus(c *gin.Context) {
	status := gin.H{}

	if h.csv != nil {
		if meta, err := h.csv.LoadMetadata(); err == nil {
			status["last_updated"] = meta.LastUpdated
			status["record_count"] = meta.RecordCount
		}
	}

	if h.scheduler != nil {
		lastRun, running, lastErr := h.scheduler.Status()
		sched := gin.H{"running": running}
		if !lastRun.IsZero() {
			sched["last_run"] = lastRun.Format("2006-01-02 15:04:05")
		}
		if lastErr != nil {
			sched["last_error"] = lastErr.Error()
		}
		status["scheduler"] = sched
	}

	c.JSON(http.StatusOK, status)
}

// GetStats returns counts from the last run plus dataset totals.
func (h *Handler) GetStats(c *gin.Context) {
	stats := gin.H{}

	if h.csv != nil {
		if runStats, err := h.csv.LoadStats(); err == nil {
			stats["last_run"] = runStats
		}
	}

	listings, err := h.dataset.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var active, unpublished, withDistance int
	for i := range listings {
		if listings[i].IsActive() {
			active++
		} else {
			unpublished++
		}
		if !math.IsNaN(listings[i].DistanceKm) {
			withDistance++
		}
	}
	stats["listings"] = gin.H{
		"total":         len(listings),
		"active":        active,
		"unpublished":   unpublished,
		"with_distance": withDistance,
	}

	c.JSON(http.StatusOK, stats)
}

// GetListings returns the dataset, optionally filtered to active
// listings and capped with ?limit=N.
func (h *Handler) GetListings(c *gin.Context) {
	listings, err := h.dataset.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if c.Query("active") == "true" {
		filtered := listings[:0]
		for i := range listings {
			if listings[i].IsActive() {
				filtered = append(filtered, listings[i])
			}
		}
		listings = filtered
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit >= 0 && limit < len(listings) {
			listings = listings[:limit]
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
	})
}

// TriggerRun starts a tracking run in the background.
func (h *Handler) TriggerRun(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not available"})
		return
	}

	log.Println("[API] manual run requested")
	go func() {
		if err := h.scheduler.RunNow(); err != nil {
			log.Printf("[API] manual run failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "run started"})
}
