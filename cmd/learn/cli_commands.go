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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// defaultServerURL is where the learner listens locally.
const defaultServerURL = "http://localhost:12310"

var serverURL string

var (
	rootCmd = &cobra.Command{
		Use:   "learn",
		Short: "A CLI to query and manage the Aleutian continuous learner",
		Long: `learn talks to a running aleutian-learn service: ask questions through
the orchestration layers, inspect learning progress, and trigger dataset
maintenance.`,
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Asks a question through the orchestration layers",
		Long:  `Sends a query to the learner's task loop. The request is routed between the local and remote backends based on how well the learned corpus covers it, and the interaction itself feeds the next learning cycle.`,
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show learning loop progress and checkpoint offsets",
		Run:   runStatusCommand,
	}
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check learner liveness",
		Run:   runHealthCommand,
	}
	readyCmd = &cobra.Command{
		Use:   "ready",
		Short: "Check learner readiness (breakers, stores, backpressure)",
		Run:   runReadyCommand,
	}
	gcCmd = &cobra.Command{
		Use:   "gc",
		Short: "Trigger a dataset GC cycle now",
		Long:  `Runs the expiration, pruning, dedup, and orphan-cleanup passes immediately instead of waiting for the schedule. Passes already running are skipped, not queued.`,
		Run:   runGCCommand,
	}
)

func init() {
	if env := os.Getenv("ALEUTIAN_LEARN_URL"); env != "" {
		serverURL = env
	} else {
		serverURL = defaultServerURL
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", serverURL,
		"Base URL of the learner service")
	rootCmd.AddCommand(askCmd, statusCmd, healthCmd, readyCmd, gcCmd)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 120 * time.Second}
}

func runAskCommand(cmd *cobra.Command, args []string) {
	body, _ := json.Marshal(map[string]string{"query": strings.Join(args, " ")})
	resp, err := httpClient().Post(serverURL+"/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not reach learner at %s: %v\n", serverURL, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var result struct {
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
		Error      string  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed response: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error (%d): %s\n", resp.StatusCode, result.Error)
		os.Exit(1)
	}
	fmt.Println(result.Answer)
	fmt.Printf("\n(corpus confidence: %.2f)\n", result.Confidence)
}

func runStatusCommand(cmd *cobra.Command, args []string) {
	printJSON("/v1/learning/status")
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	printJSON("/health")
}

func runReadyCommand(cmd *cobra.Command, args []string) {
	printJSON("/ready")
}

func runGCCommand(cmd *cobra.Command, args []string) {
	resp, err := httpClient().Post(serverURL+"/v1/dataset/gc", "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not reach learner at %s: %v\n", serverURL, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	dumpBody(resp.Body)
}

// printJSON fetches a GET endpoint and pretty-prints the JSON body.
func printJSON(path string) {
	resp, err := httpClient().Get(serverURL + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not reach learner at %s: %v\n", serverURL, err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	dumpBody(resp.Body)
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func dumpBody(body io.Reader) {
	raw, err := io.ReadAll(body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
		return
	}
	fmt.Println(string(raw))
}
