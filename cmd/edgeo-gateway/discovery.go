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
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	gateway "github.com/edgeo-scada/gateway"
	"github.com/edgeo-scada/gateway/internal/uastack"
)

var (
	discoveryEndpoint string
	discoveryTimeout  time.Duration
	outputFormat      string
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "List the endpoints of an OPC UA server",
	Long: `List the endpoints an OPC UA server advertises without opening a session.

Endpoints with a security level above zero need the client certificate and
key in the certificate directory plus a username and password.

Examples:
  edgeo-gateway discovery -e opc.tcp://localhost:4840
  edgeo-gateway discovery -e opc.tcp://plc:4840 -o yaml`,
	RunE: runDiscovery,
}

func init() {
	discoveryCmd.Flags().StringVarP(&discoveryEndpoint, "endpoint", "e", "opc.tcp://localhost:4840", "OPC UA server address")
	discoveryCmd.Flags().DurationVarP(&discoveryTimeout, "timeout", "t", 10*time.Second, "Discovery timeout")
	discoveryCmd.Flags().StringVarP(&outputFormat, "output", "o", formatTable, "Output format (table, json, yaml)")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), discoveryTimeout)
	defer cancel()

	endpoints, err := gateway.Discover(ctx, uastack.New(), discoveryEndpoint)
	if err != nil {
		if gateway.IsNoEndpoints(err) {
			return fmt.Errorf("%s is reachable but advertises no endpoints", discoveryEndpoint)
		}
		return err
	}

	return printEndpoints(cmd.OutOrStdout(), outputFormat, endpoints)
}
