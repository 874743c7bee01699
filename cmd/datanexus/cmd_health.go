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

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running server and its backends",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	addServerFlags(healthCmd)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	p := printer()
	health, err := newAPIClient(serverURL, apiToken).Health(cmd.Context())
	if err != nil {
		return err
	}

	p.Title("DataNexus health")
	p.KeyValues(health.Components)
	if health.Status != "ok" {
		p.Warning(fmt.Sprintf("Server is %s", health.Status))
		return errSilent
	}
	p.Success("All components healthy")
	return nil
}
