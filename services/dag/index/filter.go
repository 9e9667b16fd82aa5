// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"fmt"

	"github.com/AleutianAI/causallog/services/dag/model"
)

// CheckFilter reports whether meta satisfies filter.
//
// Description:
//
//	Every key in ContainsKeys must be present. For every key in
//	ContainsValues, each listed value must be in the key's value set; a key
//	listed with no values is satisfied even when absent.
func CheckFilter(meta model.MetaProps, filter model.EntryMetaFilter) bool {
	for _, key := range filter.ContainsKeys {
		if _, ok := meta[key]; !ok {
			return false
		}
	}

	for key, values := range filter.ContainsValues {
		if len(values) == 0 {
			continue
		}
		set, ok := meta[key]
		if !ok {
			return false
		}
		for _, v := range values {
			if !set.Has(v) {
				return false
			}
		}
	}

	return true
}

// MatchEntry loads hash through loader and applies CheckFilter.
//
// Outputs:
//
//	bool - Whether the entry matches.
//	error - ErrEntryNotFound (wrapped) if the entry is missing, or the
//	loader's error.
func MatchEntry(ctx context.Context, loader EntryLoader, hash model.Hash, filter model.EntryMetaFilter) (bool, error) {
	entry, ok, err := loader.LoadEntry(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("load entry %s: %w", hash, err)
	}
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrEntryNotFound, hash)
	}
	return CheckFilter(entry.Meta, filter), nil
}
