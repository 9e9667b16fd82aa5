// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command causallog appends to and queries a causal log kept in a local
// BadgerDB directory.
//
// Usage:
//
//	causallog --db ./log append '{"msg":"hello"}'
//	causallog --db ./log append --after "" --meta author=ann '{"msg":"second root"}'
//	causallog --db ./log frontier
//	causallog --db ./log fork --a <hash> --b <hash>
//	causallog --db ./log filter --key author
//
// Configuration is read from --config (YAML or JSON) and CAUSALLOG_*
// environment variables; flags override both.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
