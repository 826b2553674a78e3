// Package capture pulls the change log entries a clone produced since it
// was cloned and stages them, as one numbered batch, in the origin store.
package capture

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/synclone/internal/metrics"
	"github.com/roach88/synclone/internal/store"
)

// Batch describes one staged batch.
type Batch struct {
	Number int64 `json:"batch_number"`
	// Count is the number of staged changes in the batch.
	Count int `json:"count"`
	// Marker is the remote's provenance marker the delta starts after.
	Marker int64  `json:"clone_history_id"`
	URI    string `json:"uri"`
}

// Capture stages remote changes into its origin store.
type Capture struct {
	origin  *store.Store
	metrics *metrics.Metrics
}

// New returns a Capture staging into origin. m may be nil.
func New(origin *store.Store, m *metrics.Metrics) *Capture {
	return &Capture{origin: origin, metrics: m}
}

// AddBatchFromURI opens the clone at uri and stages its delta.
func (c *Capture) AddBatchFromURI(ctx context.Context, uri string) (Batch, error) {
	if c.origin == nil {
		return Batch{}, store.ErrNoConnection
	}
	if store.SameURI(c.origin.URI(), uri) {
		return Batch{}, store.Errorf(store.ErrCodeConfiguration, "Can not sync from the same database.")
	}
	remote, err := store.Open(ctx, uri, c.origin.Schema())
	if err != nil {
		return Batch{}, fmt.Errorf("open clone: %w", err)
	}
	defer remote.Close()
	return c.AddBatch(ctx, remote)
}

// AddBatch reads the remote's provenance marker, selects every change log
// entry after it and stages them under a fresh batch number. The number is
// taken and the entries inserted in one origin transaction, so a failed
// capture leaves neither a gap nor a partial batch.
func (c *Capture) AddBatch(ctx context.Context, remote *store.Store) (Batch, error) {
	if c.origin == nil || remote == nil {
		return Batch{}, store.ErrNoConnection
	}
	marker, err := remote.CloneMarker(ctx, nil)
	if err != nil {
		return Batch{}, err
	}
	entries, err := remote.HistorySince(ctx, nil, marker)
	if err != nil {
		return Batch{}, fmt.Errorf("read clone history: %w", err)
	}
	slog.Debug("clone delta read", "uri", store.Redact(remote.URI()), "clone_history_id", marker, "entries", len(entries))

	b := Batch{Count: len(entries), Marker: marker, URI: remote.URI()}
	err = c.origin.InTx(ctx, func(tx *sql.Tx) error {
		n, err := c.origin.NextBatchNumber(ctx, tx)
		if err != nil {
			return err
		}
		b.Number = n
		for _, e := range entries {
			if _, err := c.origin.InsertStaged(ctx, tx, n, e); err != nil {
				return fmt.Errorf("stage history entry %d: %w", e.ID, err)
			}
		}
		return c.origin.SetMeta(ctx, tx, store.MetaLastPullURI, remote.URI())
	})
	if err != nil {
		return Batch{}, fmt.Errorf("stage batch: %w", err)
	}
	c.metrics.Staged(b.Count)
	slog.Info("batch staged", "batch_number", b.Number, "entries", b.Count, "uri", store.Redact(remote.URI()))
	return b, nil
}
