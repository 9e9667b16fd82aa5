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
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/causallog/services/dag"
	"github.com/AleutianAI/causallog/services/dag/model"
)

func newCoverCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cover <hash>...",
		Short: "Print the minimal cover of the given entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withDag(cmd, func(ctx context.Context, d *dag.Dag) error {
				cover, err := d.FindMinimalCover(ctx, toPosition(args))
				if err != nil {
					return err
				}
				printPosition(cmd.OutOrStdout(), cover)
				return nil
			})
		},
	}
}

func newForkCmd(o *rootOptions) *cobra.Command {
	var a, b []string

	cmd := &cobra.Command{
		Use:   "fork --a <hash>... --b <hash>...",
		Short: "Print where the histories of two positions diverge, as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withDag(cmd, func(ctx context.Context, d *dag.Dag) error {
				fp, err := d.FindForkPosition(ctx, toPosition(a), toPosition(b))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), forkView{
					CommonFrontier: fp.CommonFrontier.Strings(),
					Common:         fp.Common.Strings(),
					ForkA:          fp.ForkA.Strings(),
					ForkB:          fp.ForkB.Strings(),
				})
			})
		},
	}

	cmd.Flags().StringSliceVar(&a, "a", nil, "First position")
	cmd.Flags().StringSliceVar(&b, "b", nil, "Second position")
	_ = cmd.MarkFlagRequired("a")
	_ = cmd.MarkFlagRequired("b")
	return cmd
}

func newFilterCmd(o *rootOptions) *cobra.Command {
	var from, concurrentTo, keys, values []string

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Print the minimal cover of the nearest entries matching a metadata filter",
		Long: `Walk back from --from (default: the frontier) and stop at each entry whose
metadata has every --key and every --value. With --concurrent-to, only
entries concurrent with all of those hashes are considered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseFilter(keys, values)
			if err != nil {
				return err
			}

			return o.withDag(cmd, func(ctx context.Context, d *dag.Dag) error {
				start := toPosition(from)
				if !cmd.Flags().Changed("from") {
					if start, err = d.Frontier(ctx); err != nil {
						return err
					}
				}

				var cover model.Position
				if len(concurrentTo) > 0 {
					cover, err = d.FindConcurrentCoverWithFilter(ctx, start, toPosition(concurrentTo), filter)
				} else {
					cover, err = d.FindCoverWithFilter(ctx, start, filter)
				}
				if err != nil {
					return err
				}
				printPosition(cmd.OutOrStdout(), cover)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&from, "from", nil, "Start position (default: the frontier)")
	cmd.Flags().StringSliceVar(&concurrentTo, "concurrent-to", nil, "Only keep entries concurrent with these")
	cmd.Flags().StringArrayVar(&keys, "key", nil, "Required metadata key; repeatable")
	cmd.Flags().StringArrayVar(&values, "value", nil, "Required metadata value as key=value; repeatable")
	return cmd
}

func parseFilter(keys, values []string) (model.EntryMetaFilter, error) {
	filter := model.EntryMetaFilter{ContainsKeys: keys}
	if len(values) == 0 {
		return filter, nil
	}

	filter.ContainsValues = make(map[string][]string)
	for _, pair := range values {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return model.EntryMetaFilter{}, fmt.Errorf("filter value %q: want key=value", pair)
		}
		filter.ContainsValues[k] = append(filter.ContainsValues[k], v)
	}
	return filter, nil
}

// =============================================================================
// Output
// =============================================================================

type entryView struct {
	Hash    model.Hash          `json:"hash"`
	After   []string            `json:"after"`
	Payload any                 `json:"payload"`
	Meta    map[string][]string `json:"meta,omitempty"`
}

func newEntryView(e model.Entry) entryView {
	v := entryView{
		Hash:    e.Hash,
		After:   e.Header.PrevEntryHashes.Strings(),
		Payload: e.Payload,
	}
	if len(e.Meta) > 0 {
		v.Meta = make(map[string][]string, len(e.Meta))
		for k, vs := range e.Meta {
			v.Meta[k] = vs.Sorted()
		}
	}
	return v
}

type forkView struct {
	CommonFrontier []string `json:"common_frontier"`
	Common         []string `json:"common"`
	ForkA          []string `json:"fork_a"`
	ForkB          []string `json:"fork_b"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPosition(w io.Writer, p model.Position) {
	for _, h := range p.Sorted() {
		fmt.Fprintln(w, h)
	}
}

func toPosition(hashes []string) model.Position {
	p := model.Position{}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			p.Add(model.Hash(h))
		}
	}
	return p
}
