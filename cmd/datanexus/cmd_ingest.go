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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/DataNexus/services/ingest"
	"github.com/AleutianAI/DataNexus/services/orchestrator"
	"github.com/spf13/cobra"
)

var (
	ingestFewShot  string
	ingestSchema   string
	ingestSkipDB   bool
	ingestWatching bool

	ingestCmd = &cobra.Command{
		Use:     "ingest",
		Short:   "Load schema documents and few-shot examples into the vector store",
		Aliases: []string{"i"},
		Args:    cobra.NoArgs,
		RunE:    runIngest,
	}
)

func init() {
	ingestCmd.Flags().StringVar(&ingestFewShot, "few-shot", "", "few-shot CSV (default: ingest.few_shot_file)")
	ingestCmd.Flags().StringVar(&ingestSchema, "schema", "", "database schema to document (default: database.schema)")
	ingestCmd.Flags().BoolVar(&ingestSkipDB, "skip-schema", false, "only ingest few-shot examples")
	ingestCmd.Flags().BoolVar(&ingestWatching, "watch", false, "keep running and re-ingest the few-shot file on change")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	opts := ingest.Options{
		Schema:      firstNonEmpty(ingestSchema, settings.Database.Schema),
		FewShotFile: firstNonEmpty(ingestFewShot, settings.Ingest.FewShotFile),
	}
	if ingestSkipDB {
		opts.Schema = ""
	}

	comps, err := orchestrator.OpenComponents(ctx, settings, nil)
	if err != nil {
		return err
	}
	defer comps.Close()
	ing := ingest.New(comps.Store, comps.Schema)

	p := printer()
	var report ingest.Report
	err = p.WithSpinner("Ingesting knowledge base", func() error {
		var runErr error
		report, runErr = ing.Run(ctx, opts)
		return runErr
	})
	if err != nil {
		return errSilent
	}
	p.KeyValues(map[string]string{
		"schema_docs":       fmt.Sprint(report.SchemaDocs),
		"few_shot_examples": fmt.Sprint(report.FewShotExamples),
		"duration":          report.Duration.String(),
	})

	if !ingestWatching || opts.FewShotFile == "" {
		return nil
	}
	p.Info("Watching " + opts.FewShotFile + " for changes (Ctrl+C to stop)")
	return ing.WatchFewShot(ctx, opts.FewShotFile, ingest.DefaultDebounce, func(n int, err error) {
		if err != nil {
			p.Error(fmt.Sprintf("re-ingest failed: %v", err))
			return
		}
		p.Success(fmt.Sprintf("Re-ingested %d examples", n))
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
