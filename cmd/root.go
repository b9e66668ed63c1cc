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
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/bizflycloud/edna/pkg/config"
	"github.com/bizflycloud/edna/pkg/logging"
	"github.com/bizflycloud/edna/pkg/support"
)

const (
	defaultServer = "http://127.0.0.1:8000"
	envPrefix     = "EDNA"
	systemConfig  = "/etc/edna/config.yaml"
)

var (
	cfgFile   string
	envFile   string
	serverURL string
	token     string
	username  string
	password  string
	debug     bool
	logger    *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "edna",
	Short: "Network device configuration backup.",
	Long: `EDNA pulls running configurations from network devices over SSH or Telnet,
stores them with retention and serves the history over an HTTP API.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			fmt.Println(err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if debug && logger != nil {
			logger.Error(err.Error())
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edna.yaml, then "+systemConfig+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", ".env file loaded before the config (default is .env next to the config)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug (default is false)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "URL of the agent API, http(s):// or unix:// (default "+defaultServer+")")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token for the agent API (env EDNA_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "log in to the agent API with this user")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "password of --username (env EDNA_PASSWORD)")
}

// findConfig returns the config file to read, or "" when there is none.
func findConfig() string {
	if cfgFile != "" {
		return cfgFile
	}
	var candidates []string
	// Find home directory.
	if home, err := homedir.Dir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".edna.yaml"), filepath.Join(home, ".edna.yml"))
	}
	candidates = append(candidates, systemConfig)
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	newLogger := zap.NewProduction
	if debug {
		newLogger = zap.NewDevelopment
	}
	var err error
	if logger, err = newLogger(); err != nil {
		panic(err)
	}

	config.SetDefaults(viper.GetViper())
	if paths, err := support.DefaultPaths(); err == nil {
		viper.SetDefault("database.url", paths.DatabaseURL())
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	path := findConfig()
	if envFile == "" && path != "" {
		envFile = filepath.Join(filepath.Dir(path), ".env")
	}
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			logger.Fatal("failed to load env file", zap.Error(err))
		}
	}

	// If a config file is found, read it in.
	if path != "" {
		if err := config.ReadFile(viper.GetViper(), path); err != nil {
			logger.Fatal("failed to read config file", zap.String("path", path), zap.Error(err))
		}
		logger.Debug("Using config file: " + path)
	}

	if serverURL == "" {
		serverURL = viper.GetString("server")
	}
	if serverURL == "" {
		serverURL = defaultServer
	}
	if token == "" {
		token = viper.GetString("token")
	}
	if password == "" {
		password = viper.GetString("password")
	}
}

// loadConfig decodes the configuration and swaps the bootstrap logger for
// the configured one.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	l, err := logging.New(cfg.Logging, debug)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logger = l
	return cfg, nil
}
