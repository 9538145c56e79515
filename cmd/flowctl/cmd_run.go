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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-workflow-go/engine"
	"trpc.group/trpc-go/trpc-workflow-go/stream"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

// errRunNotCompleted marks a run that ended failed, canceled or timed out.
var errRunNotCompleted = errors.New("workflow did not complete")

type runFlags struct {
	file        string
	inputs      map[string]string
	inputsFile  string
	executionID string
	timeout     time.Duration
	stream      bool
}

func newRunCmd(load loader) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workflow file and print its result",
		Long: `Runs a workflow from a JSON or YAML file and prints the result as JSON.
A run that suspends prints its interaction; answer it with "flowctl resume"
when the configured store is persistent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wf, err := workflow.LoadFile(f.file)
			if err != nil {
				return fmt.Errorf("load workflow: %w", err)
			}
			inputs, err := f.collectInputs()
			if err != nil {
				return err
			}
			a, err := load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			var opts []engine.RunOption
			if f.executionID != "" {
				opts = append(opts, engine.WithExecutionID(f.executionID))
			}
			if f.timeout > 0 {
				opts = append(opts, engine.WithTimeout(f.timeout))
			}
			var res *engine.Result
			if f.stream {
				res, err = a.engine.DispatchWorkflowStreaming(cmd.Context(), wf, inputs,
					printChunks(cmd.ErrOrStderr()), opts...)
			} else {
				res, err = a.engine.DispatchWorkflow(cmd.Context(), wf, inputs, opts...)
			}
			return report(cmd.OutOrStdout(), res, err)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "file", "f", "", "Workflow file, .json or .yaml (required)")
	fl.StringToStringVarP(&f.inputs, "input", "i", nil, "Input variable as key=value, repeatable")
	fl.StringVar(&f.inputsFile, "inputs-file", "", "JSON object of input variables")
	fl.StringVar(&f.executionID, "execution-id", "", "Execution ID to use instead of a generated one")
	fl.DurationVar(&f.timeout, "timeout", 0, "Run deadline overriding the configured one")
	fl.BoolVar(&f.stream, "stream", false, "Print streamed text fragments to stderr")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// collectInputs merges the inputs file with --input pairs, pairs winning.
// Pair values that parse as JSON keep their type.
func (f *runFlags) collectInputs() (map[string]any, error) {
	inputs := make(map[string]any)
	if f.inputsFile != "" {
		data, err := os.ReadFile(f.inputsFile)
		if err != nil {
			return nil, fmt.Errorf("read inputs: %w", err)
		}
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("parse inputs %s: %w", f.inputsFile, err)
		}
	}
	for k, v := range f.inputs {
		inputs[k] = parseValue(v)
	}
	return inputs, nil
}

// parseValue decodes s as JSON, falling back to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func printChunks(w io.Writer) stream.ChunkFunc {
	return func(c stream.Chunk, isLast bool) {
		if isLast {
			fmt.Fprintln(w)
			return
		}
		fmt.Fprint(w, c.Text)
	}
}

// report prints res. Runs rejected before starting return err alone; runs
// that ended unsuccessfully print their result and return
// errRunNotCompleted.
func report(w io.Writer, res *engine.Result, err error) error {
	if res == nil {
		return err
	}
	if werr := writeJSON(w, res); werr != nil {
		return werr
	}
	switch res.Status {
	case engine.StatusCompleted, engine.StatusSuspended:
		return nil
	default:
		return fmt.Errorf("%w: %s: %v", errRunNotCompleted, res.Status, err)
	}
}
