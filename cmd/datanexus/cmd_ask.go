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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/DataNexus/pkg/extensions"
	"github.com/AleutianAI/DataNexus/pkg/ux"
	"github.com/AleutianAI/DataNexus/services/agent"
	"github.com/AleutianAI/DataNexus/services/agent/graph"
	"github.com/AleutianAI/DataNexus/services/llm"
	"github.com/AleutianAI/DataNexus/services/orchestrator"
	"github.com/AleutianAI/DataNexus/services/orchestrator/handlers"
	"github.com/spf13/cobra"
)

var (
	askThread string
	askUser   string
	askLocal  bool

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and show the agent's progress",
		Long: `Ask sends a question to a running server over the chat websocket and
prints each step as the agent completes it. Pass --thread to continue a
conversation. With --local the agent runs in this process instead.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}
)

func init() {
	addServerFlags(askCmd)
	askCmd.Flags().StringVarP(&askThread, "thread", "t", "", "continue this conversation thread")
	askCmd.Flags().StringVarP(&askUser, "user", "u", "", "user whose memories are used")
	askCmd.Flags().BoolVar(&askLocal, "local", false, "run the agent in process instead of calling --server")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question must not be empty")
	}
	progress := printer().NewStepProgress(question)

	var (
		threadID, answer string
		err              error
	)
	if askLocal {
		threadID, answer, err = askInProcess(ctx, question, progress)
	} else {
		threadID, answer, err = askServer(ctx, newAPIClient(serverURL, apiToken), question, progress)
	}
	if err != nil {
		progress.Fail(err)
		return errSilent
	}
	progress.Done(threadID, answer)
	return nil
}

func askServer(ctx context.Context, client *apiClient, question string, progress *ux.StepProgress) (string, string, error) {
	msg, err := client.Ask(ctx, question, askThread, askUser, func(m handlers.WSMessage) {
		progress.Step(m.Step, m.Message)
	})
	if err != nil {
		return "", "", err
	}
	return msg.ThreadID, msg.Content, nil
}

func askInProcess(ctx context.Context, question string, progress *ux.StepProgress) (string, string, error) {
	settings, err := loadSettings()
	if err != nil {
		return "", "", err
	}
	svc, err := orchestrator.New(ctx, settings, extensions.DefaultOptions())
	if err != nil {
		return "", "", err
	}
	defer svc.Close()

	user := firstNonEmpty(askUser, settings.Agent.DefaultUserID)
	res, err := svc.Agent().Run(ctx, agent.Request{
		ThreadID: askThread,
		UserID:   user,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: question}},
	}, func(ev agent.Event) {
		if ev.Status == graph.NodeStatusCompleted {
			progress.Step(ev.Step, ev.DisplayName)
		}
	})
	if err != nil {
		return "", "", err
	}
	composer := svc.Composer()
	if composer.WillRender(res.State) {
		progress.Step(res.Steps+1, agent.RenderingStatus)
	}
	return res.ThreadID, composer.Compose(ctx, res.State), nil
}
