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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/DataNexus/pkg/extensions"
	"github.com/AleutianAI/DataNexus/services/ingest"
	"github.com/AleutianAI/DataNexus/services/orchestrator"
	"github.com/spf13/cobra"
)

var (
	ingestOnStart bool
	watchFewShot  bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the OpenAI compatible chat API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&ingestOnStart, "ingest", false, "ingest schema and few-shot examples before serving")
	serveCmd.Flags().BoolVar(&watchFewShot, "watch", false, "re-ingest the few-shot file whenever it changes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	opts := extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(slog.Default()))
	svc, err := orchestrator.New(ctx, settings, opts)
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("Error while closing service", "error", err)
		}
	}()

	if ingestOnStart {
		report, err := svc.Ingester().Run(ctx, ingest.Options{
			Schema:      settings.Database.Schema,
			FewShotFile: settings.Ingest.FewShotFile,
		})
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		printer().Success(fmt.Sprintf("Ingested %d schema documents and %d examples", report.SchemaDocs, report.FewShotExamples))
	}
	if watchFewShot && settings.Ingest.FewShotFile != "" {
		go watchExamples(ctx, svc.Ingester(), settings.Ingest.FewShotFile)
	}

	printer().Title(fmt.Sprintf("DataNexus listening on :%d", settings.Server.Port))
	return svc.Run(ctx)
}

func watchExamples(ctx context.Context, ing *ingest.Ingester, path string) {
	err := ing.WatchFewShot(ctx, path, ingest.DefaultDebounce, func(n int, err error) {
		if err == nil {
			slog.Info("Few-shot examples reloaded", "path", path, "examples", n)
		}
	})
	if err != nil {
		slog.Error("Few-shot watcher stopped", "path", path, "error", err)
	}
}
