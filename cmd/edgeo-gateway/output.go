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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	gateway "github.com/edgeo-scada/gateway"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func printEndpoints(w io.Writer, format string, endpoints []gateway.EndpointDescriptor) error {
	switch strings.ToLower(format) {
	case formatTable, "":
		return printEndpointTable(w, endpoints)
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(endpoints)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(endpoints); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func printEndpointTable(w io.Writer, endpoints []gateway.EndpointDescriptor) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tURL\tMODE\tPOLICY\tLEVEL\tCREDENTIALS")
	for i, ep := range endpoints {
		policy, err := gateway.PolicyName(ep.SecurityPolicyURI)
		if err != nil {
			policy = ep.SecurityPolicyURI
		}
		creds := "none"
		if ep.Secure() {
			creds = "username+password"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			i+1, ep.URL, ep.SecurityMode, policy, ep.SecurityLevel, creds)
	}
	return tw.Flush()
}
