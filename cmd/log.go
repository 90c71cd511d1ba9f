// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"hermannm.dev/devlog"
)

var level slog.LevelVar

// logger writes to stderr so command output on stdout stays parseable
var logger = slog.New(devlog.NewHandler(os.Stderr, &devlog.Options{
	Level: &level,
}))

func init() {
	level.Set(slog.LevelWarn)
	slog.SetDefault(logger)
}

func setupLogging(cmd *cobra.Command, args []string) error {
	if debug {
		level.Set(slog.LevelDebug)
	}
	return nil
}
