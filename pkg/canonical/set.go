// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package canonical

import (
	"fmt"
	"sort"
)

// SetLiteral encodes a set of strings as an object whose keys are the
// elements and whose values are all "". Duplicates collapse.
func SetLiteral(elems []string) map[string]any {
	lit := make(map[string]any, len(elems))
	for _, e := range elems {
		lit[e] = ""
	}
	return lit
}

// ParseSet decodes a set literal produced by SetLiteral (or decoded from
// JSON/msgpack) back into its sorted elements.
//
// Description:
//
//	Accepts map[string]any and map[string]string. Every value must be the
//	empty string. A nil literal is the empty set.
//
// Outputs:
//
//	[]string - Elements in sorted order.
//	error - ErrMalformedSet (wrapped) for non-marker values or a literal
//	that is not an object.
func ParseSet(lit any) ([]string, error) {
	var elems []string

	switch m := lit.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		elems = make([]string, 0, len(m))
		for k, v := range m {
			if s, ok := v.(string); !ok || s != "" {
				return nil, fmt.Errorf("%w: element %q has marker %v", ErrMalformedSet, k, v)
			}
			elems = append(elems, k)
		}
	case map[string]string:
		elems = make([]string, 0, len(m))
		for k, v := range m {
			if v != "" {
				return nil, fmt.Errorf("%w: element %q has marker %q", ErrMalformedSet, k, v)
			}
			elems = append(elems, k)
		}
	default:
		return nil, fmt.Errorf("%w: %T is not an object", ErrMalformedSet, lit)
	}

	sort.Strings(elems)
	return elems, nil
}
