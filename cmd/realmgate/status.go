// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/realmgate/realmgate/internal/config"
)

// ServerStatus holds the probed state of a running server.
type ServerStatus struct {
	Address string `json:"address"`
	Live    bool   `json:"live"`
	Ready   bool   `json:"ready"`
	Error   string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running RealmGate server",
		Long:  `Probe the health endpoints of a running server and report liveness and readiness.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "", "health endpoint address (defaults to the configured metrics address)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	addr := cfg.addr
	if addr == "" {
		// A partial or missing config file is fine here, only the
		// metrics address matters for probing.
		if fileCfg, err := config.Load(resolveConfigPath(), nil); err == nil {
			addr = fileCfg.Server.MetricsAddr
		}
	}
	if addr == "" {
		addr = config.Default().Server.MetricsAddr
	}

	status := queryServerStatus(addr)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(formatStatusTable(status))
	return nil
}

// queryServerStatus probes the liveness and readiness endpoints at addr.
func queryServerStatus(addr string) ServerStatus {
	status := ServerStatus{Address: addr}

	client := &http.Client{Timeout: 2 * time.Second}

	live, err := probe(client, "http://"+addr+"/healthz/liveness")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	status.Live = live

	ready, err := probe(client, "http://"+addr+"/healthz/readiness")
	if err != nil {
		// Liveness succeeded but readiness failed, report as not ready.
		return status
	}
	status.Ready = ready

	return status
}

// probe issues a GET and reports whether the endpoint returned 200.
func probe(client *http.Client, url string) (bool, error) {
	resp, err := client.Get(url)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK, nil
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServerStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ADDRESS\tLIVE\tREADY\tERROR")
	_, _ = fmt.Fprintln(w, "-------\t----\t-----\t-----")

	errText := status.Error
	if errText == "" {
		errText = "-"
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
		status.Address, yesNo(status.Live), yesNo(status.Ready), errText)

	_ = w.Flush()
	return string(buf)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
