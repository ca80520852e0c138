// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parapet Contributors

// Package main is the entry point for the Parapet policy engine CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/parapet/parapet/pkg/errutil"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes for scripting against the CLI.
const (
	exitPermit    = 0
	exitDeny      = 1
	exitMalformed = 2
	exitBackend   = 3
)

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := cmd.Execute(); err != nil {
		var ec *exitError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		os.Exit(exitCodeFor(err))
	}
}

// exitError carries an explicit exit code out of a command without
// printing anything further.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// exitCodeFor maps engine error codes to the CLI exit code contract:
// malformed policies and bad requests are 2, everything the caller
// could retry is 3.
func exitCodeFor(err error) int {
	switch errutil.ErrorCode(err) {
	case "POLICY_MALFORMED", "INVALID_REQUEST":
		return exitMalformed
	default:
		return exitBackend
	}
}
