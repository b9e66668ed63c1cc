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
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/output"
)

// tempCleaner is a sink that leaves temporary files behind when a write
// is interrupted.
type tempCleaner interface {
	CleanupTemp() (int, error)
}

var cleanupTmpCmd = &cobra.Command{
	Use:   "cleanup-tmp",
	Short: "Remove temporary files left by interrupted backup writes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyPathDefaults(cfg)
		sinks, err := output.FromConfig(cfg.Output, logger)
		if err != nil {
			return err
		}
		for _, s := range sinks {
			c, ok := s.(tempCleaner)
			if !ok {
				continue
			}
			n, err := c.CleanupTemp()
			if err != nil {
				logger.Error("cleanup failed", zap.String("sink", s.Name()), zap.Error(err))
				return err
			}
			fmt.Printf("%s: removed %d temporary files\n", s.Name(), n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupTmpCmd)
}
