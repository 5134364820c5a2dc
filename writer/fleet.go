package writer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/c360/snapstream/chunkstore"
	"github.com/c360/snapstream/pkg/fleet"
	"github.com/c360/snapstream/snapshot"
)

// NewFleet builds a fleet of size writer workers for the stream at root.
// Each worker pulls splits independently, so heterogeneous workers
// load-balance naturally: a faster worker simply pulls more often.
func NewFleet(size int, root string, coord Coordinator, store chunkstore.Store, pipeline snapshot.Pipeline, opts snapshot.Options, cfg Config, logger *slog.Logger) (*fleet.Fleet, error) {
	workers := make([]*Worker, size)
	for i := range workers {
		id := fmt.Sprintf("worker-%d-%s", i, uuid.NewString()[:8])
		w, err := NewWorker(id, root, coord, store, pipeline, opts, cfg, logger)
		if err != nil {
			return nil, err
		}
		workers[i] = w
	}

	return fleet.New(size, func(ctx context.Context, i int) error {
		return workers[i].Run(ctx)
	})
}
