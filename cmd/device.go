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

	"github.com/bizflycloud/bizflyctl/formatter"
	"github.com/spf13/cobra"
)

var listDevicesHeaders = []string{"Name", "Host", "Type", "Last backup"}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect devices known to the agent.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices and their last backup time.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		devices, err := c.ListDevices(ctx)
		if err != nil {
			return err
		}
		data := make([][]string, 0, len(devices))
		for _, d := range devices {
			data = append(data, []string{d.Name, d.Host, d.DeviceType, formatTime(d.LastBackup)})
		}
		formatter.Output(listDevicesHeaders, data)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceListCmd)
}
