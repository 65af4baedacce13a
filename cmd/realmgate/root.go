// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the RealmGate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realmgate",
		Short: "RealmGate - game account authentication and gateway assignment",
		Long: `RealmGate is the account authentication service of a game backend:
registration, login with cached credential resolution, and deterministic
assignment of authenticated players to gateway shards.`,
	}

	// Global flag for config file path; empty means the XDG default is
	// tried and compiled-in defaults are used if no file exists.
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}
