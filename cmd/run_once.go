// This file is part of edna
//
// Copyright (C) 2020  BizFly Cloud
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/backup"
	"github.com/bizflycloud/edna/pkg/progress"
)

var runOnceDevice string

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Back up every device once, without the agent.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		a.orchestrator.Progress().OnUpdate = func(s progress.Stat, elapsed time.Duration, ticker bool) {
			fmt.Fprintf(os.Stderr, "\r%s in %s", s, elapsed.Round(time.Second))
		}
		report, err := a.orchestrator.RunOnce(ctx, backup.RunOptions{Trigger: backup.TriggerCLI, Device: runOnceDevice})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr)
		logger.Debug("Run finished", zap.String("run_id", report.ID))

		formatter.Output(reportHeaders, reportRows(report))
		fmt.Println(reportSummary(report))
		cmd.SilenceUsage = true
		return reportErr(report)
	},
}

func init() {
	rootCmd.AddCommand(runOnceCmd)
	runOnceCmd.Flags().StringVar(&runOnceDevice, "device", "", "back up this device only")
}
