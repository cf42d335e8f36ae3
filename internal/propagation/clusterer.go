package propagation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/meshtrace/internal/fault"
	"github.com/roach88/meshtrace/internal/store"
)

// Clusterer builds propagation graphs from an observation table.
type Clusterer struct {
	store  *store.Store
	table  string
	logger *slog.Logger
}

// NewClusterer creates a Clusterer reading table. A nil logger discards output.
func NewClusterer(s *store.Store, table string, logger *slog.Logger) *Clusterer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Clusterer{store: s, table: table, logger: logger}
}

// Build clusters the copies of fileID into dissemination waves.
//
// An empty fileID selects the most replicated bundle. A window of zero or
// less uses DefaultWindow. Returns fault.KindInsufficientData when the
// origin has no insert time or the bundle has no timestamped copies.
func (c *Clusterer) Build(ctx context.Context, fileID string, window time.Duration) (*Graph, error) {
	if err := c.store.RequireTable(ctx, c.table); err != nil {
		return nil, err
	}
	if window <= 0 {
		window = DefaultWindow
	}

	if fileID == "" {
		id, err := c.store.MostReplicatedFileID(ctx, c.table)
		if err != nil {
			return nil, fmt.Errorf("select representative bundle: %w", err)
		}
		fileID = id
		c.logger.Info("selected most replicated bundle", "file_id", fileID)
	}

	origin, err := c.store.OriginObservation(ctx, c.table, fileID)
	if err != nil {
		return nil, err
	}
	if !origin.HasInsertTime() {
		return nil, fault.Newf(fault.KindInsufficientData, "propagation",
			"origin of bundle %q on tablet %q has no insert time", fileID, origin.TabletID)
	}

	copies, err := c.store.ResilientCopies(ctx, c.table, fileID)
	if err != nil {
		return nil, err
	}
	if len(copies) == 0 {
		return nil, fault.Newf(fault.KindInsufficientData, "propagation",
			"bundle %q has no timestamped resilient copies", fileID)
	}

	g := &Graph{
		FileID:   fileID,
		Window:   window,
		Origin:   Node{TabletID: origin.TabletID, InsertTime: origin.FileInsertTime.Int64, Cluster: -1},
		Clusters: Partition(origin.FileInsertTime.Int64, copies, window),
	}

	first := g.Clusters[0].Members[0]
	g.Edges = []Edge{{From: g.Origin.TabletID, To: first.TabletID, ToCluster: 0}}

	c.logger.Debug("propagation graph built",
		"file_id", fileID,
		"origin", origin.TabletID,
		"origin_inserted_at", origin.InsertedAt(),
		"copies", len(copies),
		"clusters", len(g.Clusters),
		"window", window,
	)
	return g, nil
}
