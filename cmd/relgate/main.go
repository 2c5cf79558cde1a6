// Copyright 2025 Relgate Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relgate/relgate/internal/app"
	"github.com/relgate/relgate/internal/config"
	"github.com/relgate/relgate/pkg/log"
	"github.com/relgate/relgate/pkg/version"
)

var confDir string

var rootCmd = &cobra.Command{
	Use:   "relgate",
	Short: "relgate gates releases through scan, sign, deploy, and verify stages",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run <candidate-source>",
	Short: "run the release pipeline for one candidate",
	Long: "Builds the candidate from the given source, drives it through the " +
		"configured gates, and exits 0 only when the release succeeded " +
		"(with or without rollback).",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		log.MustInit(log.SetDefaults())

		cfg, err := config.Load(confDir)
		if err != nil {
			return err
		}
		a, cleanup, err := app.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		run, err := a.Run(ctx, args[0])
		stop()
		cleanup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "relgate: %v\n", err)
		}
		if run == nil {
			os.Exit(1)
		}
		os.Exit(run.Status.ExitCode())
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&confDir, "conf", "c", "conf.d", "config directory containing config.toml")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(version.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
