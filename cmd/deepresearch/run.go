// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/deepresearch/pkg/observability"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
)

// RunCmd executes run_research(question, config?) -> Run (spec §6) once,
// end-to-end, and writes its run directory before exiting.
type RunCmd struct {
	Question string `arg:"" help:"The research question to investigate."`
}

func (c *RunCmd) Run(cli *CLI) error {
	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, closeCfg, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	defer closeCfg()

	obs, err := observability.NewFromConfig(ctx, cfg.Observability)
	if err != nil {
		return fmt.Errorf("initializing observability: %w", err)
	}
	defer obs.Shutdown(context.Background())

	e, err := newEngine(cfg, obs.Metrics())
	if err != nil {
		return err
	}
	defer e.Close()

	run, err := e.orch.Run(ctx, c.Question)
	if err != nil {
		return fmt.Errorf("research run failed: %w", err)
	}

	dir, err := e.writer.WriteRun(cfg, run)
	if err != nil {
		return fmt.Errorf("writing run directory: %w", err)
	}

	printRunSummary(run, dir)
	return nil
}

func printRunSummary(run *model.Run, dir string) {
	fmt.Fprintf(os.Stdout, "run %s: %s\n", run.ID, run.Status)
	if run.AbortReason != "" {
		fmt.Fprintf(os.Stdout, "abort reason: %s\n", run.AbortReason)
	}
	fmt.Fprintf(os.Stdout, "tasks: %d, entities: %d, claims: %d, cost: $%.4f\n",
		len(run.Tasks), len(run.Entities), len(run.Claims), run.Cost.TotalDollars)
	fmt.Fprintf(os.Stdout, "run directory: %s\n", dir)
	if run.ReportMarkdown != "" {
		fmt.Fprintln(os.Stdout, "\n---\n")
		fmt.Fprintln(os.Stdout, run.ReportMarkdown)
	}
}
