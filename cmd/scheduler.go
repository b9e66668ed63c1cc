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

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/spf13/cobra"

	"github.com/bizflycloud/edna/pkg/backupapi"
	"github.com/bizflycloud/edna/pkg/server"
)

var schedulerHeaders = []string{"State", "Enabled", "Running", "Cron", "Last run", "Next run", "Progress"}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Control the backup scheduler of the agent.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

func schedulerRow(st *server.SchedulerStatus) []string {
	prog := "-"
	if st.Progress != nil {
		prog = itoa(st.Progress.Devices) + "/" + itoa(st.Progress.Total)
	}
	return []string{
		string(st.State),
		fmt.Sprint(st.Enabled),
		fmt.Sprint(st.IsRunning),
		st.Cron,
		formatTime(st.LastRun),
		formatTime(st.NextRun),
		prog,
	}
}

func schedulerAction(fn func(c *backupapi.Client, ctx context.Context) (*server.SchedulerStatus, error)) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		st, err := fn(c, ctx)
		if err != nil {
			return err
		}
		formatter.Output(schedulerHeaders, [][]string{schedulerRow(st)})
		return nil
	}
}

var schedulerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Enable scheduled backups.",
	RunE:  schedulerAction((*backupapi.Client).StartScheduler),
}

var schedulerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Disable scheduled backups. A run in progress finishes.",
	RunE:  schedulerAction((*backupapi.Client).StopScheduler),
}

var schedulerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the scheduler state.",
	RunE:  schedulerAction((*backupapi.Client).SchedulerStatus),
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd, schedulerStopCmd, schedulerStatusCmd)
}
