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
	"io/ioutil"
	"os"

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	listBackupHeaders = []string{"Filename", "Created", "Age", "Size"}
	listRunsHeaders   = []string{"ID", "Trigger", "Status", "Started", "Attempted", "Succeeded", "Failed"}

	backupDevice string
	backupID     string
	outputFile   string
	runAsync     bool
	runsLimit    int
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Perform backup tasks.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

// backupListCmd represents the backup list command
var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the backups of a device, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		entries, err := c.ListBackups(ctx, backupDevice)
		if err != nil {
			return err
		}
		data := make([][]string, 0, len(entries))
		for _, e := range entries {
			created := e.CreationTime
			data = append(data, []string{e.Filename, formatTime(&created), e.ElapsedTime, humanize.IBytes(uint64(e.Size))})
		}
		formatter.Output(listBackupHeaders, data)
		return nil
	},
}

// backupGetCmd prints one backup, or the newest one without --id.
var backupGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the content of a backup.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		var content string
		if backupID == "" {
			content, err = c.LastBackup(ctx, backupDevice)
		} else {
			content, err = c.GetBackup(ctx, backupDevice, backupID)
		}
		if err != nil {
			return err
		}
		if outputFile != "" {
			return ioutil.WriteFile(outputFile, []byte(content), 0640)
		}
		_, err = fmt.Fprint(os.Stdout, content)
		return err
	},
}

// backupRunCmd represents the backup run command
var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backup immediately.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		if runAsync {
			a, err := c.StartBackup(ctx, backupDevice)
			if isAlreadyRunning(err) {
				return fmt.Errorf("a backup run is already in progress")
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s (run %s)\n", a.Message, a.RunID)
			return nil
		}
		report, err := c.RunBackup(ctx, backupDevice)
		if isAlreadyRunning(err) {
			return fmt.Errorf("a backup run is already in progress")
		}
		if err != nil {
			return err
		}
		formatter.Output(reportHeaders, reportRows(report))
		fmt.Println(reportSummary(report))
		cmd.SilenceUsage = true
		return reportErr(report)
	},
}

var backupRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent backup runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		runs, err := c.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}
		data := make([][]string, 0, len(runs))
		for _, r := range runs {
			started := r.StartedAt
			data = append(data, []string{
				r.ID, r.Trigger, string(r.Status), formatTime(&started),
				fmt.Sprint(r.Attempted), fmt.Sprint(r.Succeeded), fmt.Sprint(r.Failed),
			})
		}
		formatter.Output(listRunsHeaders, data)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupListCmd.Flags().StringVar(&backupDevice, "device", "", "name of the device")
	_ = backupListCmd.MarkFlagRequired("device")
	backupCmd.AddCommand(backupListCmd)

	backupGetCmd.Flags().StringVar(&backupDevice, "device", "", "name of the device")
	backupGetCmd.Flags().StringVar(&backupID, "id", "", "backup filename (default is the newest backup)")
	backupGetCmd.Flags().StringVar(&outputFile, "output", "", "write the backup to this file instead of stdout")
	_ = backupGetCmd.MarkFlagRequired("device")
	backupCmd.AddCommand(backupGetCmd)

	backupRunCmd.Flags().StringVar(&backupDevice, "device", "", "back up this device only")
	backupRunCmd.Flags().BoolVar(&runAsync, "async", false, "return once the run has started")
	backupCmd.AddCommand(backupRunCmd)

	backupRunsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")
	backupCmd.AddCommand(backupRunsCmd)
}
