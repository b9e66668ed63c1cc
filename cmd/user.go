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
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/auth"
	"github.com/bizflycloud/edna/pkg/store"
)

var newRole string

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage local API users.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			logger.Error(err.Error())
		}
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Add a user to the state database.",
	Long:  "Add a user to the state database. --username and --password set the credentials of the new user.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		a, err := auth.New(st, cfg.Auth.JWT.SecretKey, 0, zap.NewNop())
		if err != nil {
			return err
		}
		err = a.CreateUser(ctx, username, password, newRole)
		if errors.Is(err, store.ErrUserExists) {
			return fmt.Errorf("user %q already exists", username)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Created user %s (%s)\n", username, newRole)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCreateCmd.Flags().StringVar(&newRole, "role", auth.RoleUser, "role of the new user ("+auth.RoleAdmin+" or "+auth.RoleUser+")")
	userCmd.AddCommand(userCreateCmd)
}
