// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/causallog/pkg/logging"
	"github.com/AleutianAI/causallog/services/dag"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	indexKind  string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "causallog",
		Short: "Append to and query a causal history log",
		Long: `causallog keeps an append-only, content-addressed DAG of entries in a
local BadgerDB directory and answers partial-order queries over it:
minimal covers, fork positions and metadata-filtered covers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML or JSON config file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "BadgerDB directory (overrides store.path)")
	root.PersistentFlags().StringVar(&opts.indexKind, "index", "", "Index kind: flat, topo or level (overrides index.kind)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(
		newAppendCmd(opts),
		newShowCmd(opts),
		newLogCmd(opts),
		newFrontierCmd(opts),
		newCoverCmd(opts),
		newForkCmd(opts),
		newFilterCmd(opts),
	)
	return root
}

// config merges the config file, environment and flags. The CLI always
// needs a persistent badger store.
func (o *rootOptions) config() (dag.Config, error) {
	cfg, err := dag.LoadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}

	if o.dbPath != "" {
		cfg.Store.Kind = dag.StoreBadger
		cfg.Store.Path = o.dbPath
		cfg.Store.InMemory = false
	}
	if o.indexKind != "" {
		cfg.Index.Kind = o.indexKind
	}

	switch {
	case o.verbose:
		cfg.Log.Level = "debug"
	case cfg.Log.Level == dag.DefaultConfig().Log.Level:
		cfg.Log.Level = "warn"
	}

	if cfg.Store.Kind != dag.StoreBadger || cfg.Store.InMemory {
		return cfg, fmt.Errorf("%w: entries would not outlive the command; pass --db or configure a persistent badger store", dag.ErrInvalidConfig)
	}
	return cfg, cfg.Validate()
}

// logger returns the CLI's own logger. It writes to the command's stderr
// at the configured level, tagged with the command name.
func (o *rootOptions) logger(cmd *cobra.Command, cfg dag.Config) *logging.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logging.LevelWarn
	}
	return logging.New(logging.Config{
		Level:   level,
		Service: "causallog-cli",
		JSON:    cfg.Log.JSON,
		Output:  cmd.ErrOrStderr(),
	}).With("command", cmd.Name())
}

// withDag opens the configured Dag, runs fn and closes the Dag. The Dag
// logs through the CLI logger.
func (o *rootOptions) withDag(cmd *cobra.Command, fn func(ctx context.Context, d *dag.Dag) error) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}
	logger := o.logger(cmd, cfg)

	ctx := cmd.Context()
	start := time.Now()
	logger.Debug("opening dag", "path", cfg.Store.Path, "index", cfg.Index.Kind)

	d, closer, err := dag.Open(ctx, cfg, dag.WithLogger(logger.Slog()))
	if err != nil {
		return err
	}

	runErr := fn(ctx, d)
	if err := closer.Close(); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("close: %w", err)
		} else {
			logger.Error("close failed", "error", err)
		}
	}

	switch {
	case ctx.Err() != nil:
		logger.Warn("command interrupted", "error", ctx.Err())
	case runErr == nil:
		logger.Info("command finished", "duration", time.Since(start))
	}
	return runErr
}
