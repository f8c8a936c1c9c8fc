package db

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Transfer copies every node and then every edge from src into dst.
// It reports success; errors are logged, not returned. Segments are not copied.
func Transfer(ctx context.Context, src, dst Backend, logger *slog.Logger) bool {
	logger = orDiscard(logger).With(
		slog.String("from", string(src.Kind())),
		slog.String("to", string(dst.Kind())),
	)

	var nodes []Node
	var edges []Edge
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = src.ReadNodes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		edges, err = src.ReadEdges(gctx, "")
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("reading source", slog.Any("error", err))
		return false
	}

	if err := dst.AddNodes(ctx, nodes); err != nil {
		logger.Error("writing nodes", slog.Any("error", err))
		return false
	}
	if err := dst.AddEdges(ctx, edges); err != nil {
		logger.Error("writing edges", slog.Any("error", err))
		return false
	}

	logger.Info("transfer complete", slog.Int("nodes", len(nodes)), slog.Int("edges", len(edges)))
	return true
}

// EmbeddedToManaged copies an embedded file into a managed store
func EmbeddedToManaged(ctx context.Context, path string, cfg ManagedConfig, logger *slog.Logger) bool {
	return transferBetween(ctx, Descriptor{Path: path}, Descriptor{Managed: &cfg}, logger)
}

// ManagedToEmbedded copies a managed store into an embedded file
func ManagedToEmbedded(ctx context.Context, cfg ManagedConfig, path string, logger *slog.Logger) bool {
	return transferBetween(ctx, Descriptor{Managed: &cfg}, Descriptor{Path: path}, logger)
}

func transferBetween(ctx context.Context, from, to Descriptor, logger *slog.Logger) bool {
	logger = orDiscard(logger)

	src, err := Open(ctx, from, logger)
	if err != nil {
		logger.Error("opening source", slog.Any("error", err))
		return false
	}
	defer src.Close()

	dst, err := Open(ctx, to, logger)
	if err != nil {
		logger.Error("opening destination", slog.Any("error", err))
		return false
	}
	defer dst.Close()

	return Transfer(ctx, src, dst, logger)
}
