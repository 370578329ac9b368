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

package gateway

import (
	"context"
	"strings"
)

// Discover lists the endpoints advertised by the server at address. It
// needs no session. A server that answers with no endpoints yields a
// discovery error wrapping ErrNoEndpoints.
func Discover(ctx context.Context, stack Stack, address string) ([]EndpointDescriptor, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, validationError("discover", "server url is required")
	}

	endpoints, err := stack.Discover(ctx, address)
	if err != nil {
		return nil, newError(KindDiscovery, "discover", err)
	}
	if len(endpoints) == 0 {
		return nil, newError(KindDiscovery, "discover", ErrNoEndpoints)
	}
	return endpoints, nil
}
