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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/causallog/services/dag"
	"github.com/AleutianAI/causallog/services/dag/model"
)

func newAppendCmd(o *rootOptions) *cobra.Command {
	var after []string
	var meta []string

	cmd := &cobra.Command{
		Use:   "append [payload-json]",
		Short: "Append an entry and print its hash",
		Long: `Append an entry whose payload is the given JSON value (read from stdin
when omitted) and print the entry hash.

Without --after the entry goes on top of the current frontier. Pass
--after "" to start a new root.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, args)
			if err != nil {
				return err
			}
			props, err := parseMeta(meta)
			if err != nil {
				return err
			}

			return o.withDag(cmd, func(ctx context.Context, d *dag.Dag) error {
				preds := toPosition(after)
				if !cmd.Flags().Changed("after") {
					if preds, err = d.Frontier(ctx); err != nil {
						return err
					}
				}

				h, err := d.Append(ctx, payload, props, preds)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), h)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&after, "after", nil, "Predecessor hashes (default: the current frontier)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata value as key=value; repeat for more values")
	return cmd
}

func newShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <hash>",
		Short: "Print an entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withDag(cmd, func(ctx context.Context, d *dag.Dag) error {
				e, ok, err := d.LoadEntry(ctx, model.Hash(args[0]))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("entry %s not found", args[0])
				}
				return writeJSON(cmd.OutOrStdout(), newEntryView(e))
			})
		},
	}
}

func newLogCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "List entries in insertion order with their predecessors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withDag(cmd, func(ctx context.Context, d *dag.Dag) error {
				entries, err := d.LoadAllEntries(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					preds := e.Header.PrevEntryHashes.Strings()
					if len(preds) == 0 {
						fmt.Fprintln(out, e.Hash)
						continue
					}
					fmt.Fprintf(out, "%s <- %s\n", e.Hash, strings.Join(preds, ","))
				}
				return nil
			})
		},
	}
}

func newFrontierCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "frontier",
		Short: "Print the entries that have no successor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withDag(cmd, func(ctx context.Context, d *dag.Dag) error {
				frontier, err := d.Frontier(ctx)
				if err != nil {
					return err
				}
				printPosition(cmd.OutOrStdout(), frontier)
				return nil
			})
		},
	}
}

// readPayload decodes the payload argument, or stdin without one. Numbers
// are kept as written.
func readPayload(cmd *cobra.Command, args []string) (any, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		r = strings.NewReader(args[0])
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
		return nil, errors.New("parse payload: trailing data after the JSON value")
	}
	return payload, nil
}

// parseMeta turns key=value pairs into metadata. Repeated keys collect
// values.
func parseMeta(pairs []string) (model.MetaProps, error) {
	meta := model.MetaProps{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q: want key=value", pair)
		}
		if meta[k] == nil {
			meta[k] = model.NewValueSet()
		}
		meta[k][v] = struct{}{}
	}
	return meta, nil
}
