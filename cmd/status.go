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
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agent status.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		formatter.Output(schedulerHeaders, [][]string{schedulerRow(&st.Scheduler)})
		fmt.Printf("Input: %s\nOutput: %s\nRetention: %d\n", st.Config.Input, st.Config.Output, st.Config.Retention)
		if st.LastRun != nil {
			fmt.Printf("Last run: %s (%s), %d attempted, %d succeeded, %d failed\n",
				st.LastRun.ID, st.LastRun.Status, st.LastRun.Attempted, st.LastRun.Succeeded, st.LastRun.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
