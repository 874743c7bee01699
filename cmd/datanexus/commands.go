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
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/AleutianAI/DataNexus/pkg/logging"
	"github.com/AleutianAI/DataNexus/pkg/ux"
	"github.com/AleutianAI/DataNexus/services/config"
	"github.com/spf13/cobra"
)

// errSilent ends a command with a failing exit code after the command has
// already reported the problem.
var errSilent = errors.New("command failed")

// --- Global Command Variables ---
var (
	configPath string
	envFile    string
	logLevel   string
	logJSON    bool
	logDir     string
	outputMode string

	serverURL string
	apiToken  string

	logger *logging.Logger

	printerOnce sync.Once
	stdout      *ux.Printer

	rootCmd = &cobra.Command{
		Use:   "datanexus",
		Short: "Ask questions about your PostgreSQL data in plain language",
		Long: `DataNexus answers natural language questions about an analytics
database. It writes and runs read-only SQL, summarizes the results, draws
charts and remembers facts about each user between conversations.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupLogging,
		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", os.Getenv("DATANEXUS_CONFIG"), "YAML settings file")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file layered under the process environment")
	flags.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	flags.BoolVar(&logJSON, "log-json", false, "write JSON logs to stderr")
	flags.StringVar(&logDir, "log-dir", "", "also write JSON logs to a file in this directory")
	flags.StringVarP(&outputMode, "output", "o", "", "rich, plain or machine (default: detected)")

	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, healthCmd, configCmd)
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	level, err := logging.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "datanexus-" + cmd.Name(),
		JSON:    logJSON,
	})
	slog.SetDefault(logger.Slog())
	return nil
}

// printer returns the stdout printer for the selected output mode.
func printer() *ux.Printer {
	printerOnce.Do(func() {
		mode := ux.DetectMode(os.Stdout)
		if outputMode != "" {
			mode = ux.ParseMode(outputMode)
		}
		stdout = ux.NewPrinter(os.Stdout, mode)
	})
	return stdout
}

// loadSettings reads the YAML file, the dotenv file and the environment.
func loadSettings() (*config.Settings, error) {
	return config.Load(config.LoadOptions{ConfigPath: configPath, EnvFile: envFile})
}

// addServerFlags registers the flags of commands that talk to a running
// server.
func addServerFlags(cmd *cobra.Command) {
	def := os.Getenv("DATANEXUS_URL")
	if def == "" {
		def = "http://localhost:8001"
	}
	cmd.Flags().StringVar(&serverURL, "server", def, "base URL of the DataNexus API")
	cmd.Flags().StringVar(&apiToken, "token", os.Getenv("DATANEXUS_TOKEN"), "bearer token for the API")
}
