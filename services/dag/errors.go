// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/causallog/services/dag/model"
)

var (
	// ErrMissingPredecessor is returned by Append when a declared
	// predecessor is not in the store.
	ErrMissingPredecessor = errors.New("missing predecessor")

	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrCopyMismatch is returned by Copy when a replayed entry hashes
	// differently in the target.
	ErrCopyMismatch = errors.New("copied entry hash mismatch")
)

// MissingPredecessorError reports the entry that could not be appended and
// the first absent predecessor.
type MissingPredecessorError struct {
	Hash        model.Hash
	Predecessor model.Hash
}

func (e *MissingPredecessorError) Error() string {
	return fmt.Sprintf("cannot add %s before %s", e.Hash, e.Predecessor)
}

// Is lets errors.Is match ErrMissingPredecessor.
func (e *MissingPredecessorError) Is(target error) bool {
	return target == ErrMissingPredecessor
}
