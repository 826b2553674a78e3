// Package server exposes the resolution center over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/synclone/internal/metrics"
	"github.com/roach88/synclone/internal/replay"
	"github.com/roach88/synclone/internal/resolution"
	"github.com/roach88/synclone/internal/store"
)

const (
	readTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Handler serves the staged change endpoints.
type Handler struct {
	Center  *resolution.Center
	Metrics *metrics.Metrics
	// Policy resolves conflicts during POST /sync when the request names
	// none.
	Policy replay.PolicyResolver
}

// NewRouter wires h and a /metrics endpoint reading from gatherer.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.observe)

	r.GET("/staged", h.List)
	r.GET("/staged/:id/related", h.Related)
	r.GET("/staged/:id/batch", h.Batch)
	r.PUT("/staged/:id/values", h.Edit)
	r.DELETE("/staged/:id", h.Remove)
	r.POST("/pull", h.Pull)
	r.POST("/sync", h.Sync)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

// observe counts requests by route template, keeping ids out of the labels.
func (h *Handler) observe(c *gin.Context) {
	c.Next()
	path := c.FullPath()
	if path == "" {
		path = "-"
	}
	h.Metrics.Request(c.Request.Method, path, c.Writer.Status())
}

// Serve runs the HTTP server on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readTimeout,
		ErrorLog:          slog.NewLogLogger(slog.Default().Handler(), slog.LevelError),
	}
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed graceful shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// List returns staged changes newest first, optionally for one batch.
func (h *Handler) List(c *gin.Context) {
	var batch int64
	if s := c.Query("batch"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "batch must be an integer"})
			return
		}
		batch = n
	}
	items, err := h.Center.List(c.Request.Context(), batch)
	if err != nil {
		fail(c, err)
		return
	}
	if items == nil {
		items = []resolution.Item{}
	}
	c.JSON(http.StatusOK, items)
}

// Related returns the ids of staged changes related to :id.
func (h *Handler) Related(c *gin.Context) {
	h.selection(c, h.Center.SelectRelated)
}

// Batch returns the ids of staged changes in the batch of :id.
func (h *Handler) Batch(c *gin.Context) {
	h.selection(c, h.Center.SelectBatch)
}

func (h *Handler) selection(c *gin.Context, sel func(context.Context, int64) ([]int64, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ids, err := sel(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"ids": ids})
}

// Edit merges the JSON object in the body into the values of :id.
func (h *Handler) Edit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var edits map[string]any
	if err := c.ShouldBindJSON(&edits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := h.Center.Edit(c.Request.Context(), id, normalize(edits))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": ch.ID, "values": ch.Values})
}

// Remove deletes :id without syncing it.
func (h *Handler) Remove(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.Center.Remove(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// Pull stages the delta of a clone.
func (h *Handler) Pull(c *gin.Context) {
	var input struct {
		URI string `json:"uri" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := h.Center.Pull(c.Request.Context(), input.URI)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// Sync replays the given ids, or every staged change. Aborted sessions
// still answer 200 with the report.
func (h *Handler) Sync(c *gin.Context) {
	var input struct {
		IDs        []int64 `json:"ids"`
		OnConflict string  `json:"on_conflict"`
		Reclone    bool    `json:"reclone"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	policy := h.Policy
	if input.OnConflict != "" {
		d, err := replay.ParseDecision(input.OnConflict)
		if err != nil || d == replay.Resolve || d == replay.Dismiss {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported on_conflict %q", input.OnConflict)})
			return
		}
		policy.Decision = d
	}
	policy.Reclone = input.Reclone

	rep, err := h.Center.Sync(c.Request.Context(), input.IDs, policy, nil)
	if err != nil && !store.IsAbort(err) {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return 0, false
	}
	return id, true
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch store.CodeOf(err) {
	case store.ErrCodeConfiguration:
		status = http.StatusBadRequest
	case store.ErrCodeProvenance:
		status = http.StatusUnprocessableEntity
	case store.ErrCodeConstraintConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": string(store.CodeOf(err))})
}

// normalize turns integral JSON numbers into int64 so ids compare equal
// to stored values.
func normalize(v map[string]any) store.Values {
	out := make(store.Values, len(v))
	for k, val := range v {
		out[k] = normalizeValue(val)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = normalizeValue(el)
		}
		return out
	}
	return v
}
