//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-workflow-go/engine"
)

func newResumeCmd(load loader) *cobra.Command {
	var (
		response string
		streamed bool
	)
	cmd := &cobra.Command{
		Use:   "resume <interaction-id>",
		Short: "Answer a suspended interaction and continue its run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			var res *engine.Result
			if streamed {
				res, err = a.engine.ResumeInteractionStreaming(cmd.Context(), args[0], parseValue(response),
					printChunks(cmd.ErrOrStderr()))
			} else {
				res, err = a.engine.ResumeInteraction(cmd.Context(), args[0], parseValue(response))
			}
			return report(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringVarP(&response, "response", "r", "", "Response as JSON, or plain text")
	cmd.Flags().BoolVar(&streamed, "stream", false, "Print streamed text fragments to stderr")
	return cmd
}

func newInteractionsCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "interactions <execution-id>",
		Short: "List the interactions of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			states, err := a.engine.Interactions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, st := range states {
				st.Checkpoint = nil
			}
			return writeJSON(cmd.OutOrStdout(), states)
		},
	}
}
