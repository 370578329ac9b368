// Copyright 2025 Edgeo SCADA
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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo-scada/gateway/internal/config"
)

var (
	cfgFile string
	envFile string

	v *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-gateway",
	Short: "HTTP and WebSocket gateway for one OPC UA server",
	Long: `Expose read, write, node registration and subscriptions of an OPC UA
server over HTTP, and push data changes to WebSocket listeners.

Examples:
  edgeo-gateway serve --listen :8000
  edgeo-gateway serve --config gateway.yaml --nats-url nats://localhost:4222
  edgeo-gateway discovery -e opc.tcp://localhost:4840 -o json`,
	SilenceUsage: true,
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"listen":     "listen",
	"cert-dir":   "cert_dir",
	"nats-url":   "nats.url",
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Env file to load before reading the environment (default .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoveryCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	cobra.CheckErr(config.LoadEnvFile(envFile))

	var err error
	v, err = config.NewViper(cfgFile)
	cobra.CheckErr(err)

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		for flag, key := range flagKeys {
			if f := cmd.Flags().Lookup(flag); f != nil {
				cobra.CheckErr(v.BindPFlag(key, f))
			}
		}
	}
}
