package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/treepost/internal/ctxlog"
	"github.com/vk/treepost/internal/manifest"
	"github.com/vk/treepost/internal/remote/httpstore"
	"github.com/vk/treepost/internal/scheduler"
)

// Run executes one full posting run: load the manifest, post the hierarchy,
// report the outcome. A partial failure is reported per-set and returned as
// an error so the process exits non-zero.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	nodes, err := manifest.Load(ctx, a.config.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	a.logger.Info("Manifest loaded.", "nodes", len(nodes))

	if len(nodes) == 0 {
		a.logger.Warn("No nodes declared in manifest, nothing to post.")
		return nil
	}

	storeOpts := []httpstore.Option{}
	if a.config.EndpointPath != "" {
		storeOpts = append(storeOpts, httpstore.WithPath(a.config.EndpointPath))
	}
	if a.config.RequestTimeout > 0 {
		storeOpts = append(storeOpts, httpstore.WithTimeout(a.config.RequestTimeout))
	}
	store := httpstore.New(a.config.BaseURL, storeOpts...)
	defer store.Close()

	sched, err := scheduler.New(store, a.config.BatchLimit, a.config.WorkerCount)
	if err != nil {
		return err
	}

	a.logger.Info("🚀 Posting hierarchy...", "nodes", len(nodes), "limit", a.config.BatchLimit, "workers", a.config.WorkerCount)
	posted, err := sched.Post(ctx, nodes)
	if err != nil {
		var perr *scheduler.PostError
		if errors.As(err, &perr) {
			a.logger.Error("Hierarchy partially posted.",
				"posted", len(perr.Posted),
				"uncertain", perr.Uncertain,
				"failed", perr.Failed,
				"cause", perr.Cause,
			)
			return err
		}
		return fmt.Errorf("posting failed: %w", err)
	}

	a.logger.Info("🏁 Hierarchy posted.", "nodes", len(posted))
	return nil
}
