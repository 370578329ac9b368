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
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Client certificate and key file names inside the certificate directory.
const (
	ClientCertFile = "opcua_client_cert.pem"
	ClientKeyFile  = "opcua_client_key.pem"
)

// PolicyName returns the short security policy name carried in the
// fragment of a policy URI, e.g. "Basic256Sha256" for
// "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256".
func PolicyName(uri string) (string, error) {
	_, name, ok := strings.Cut(uri, "#")
	if !ok || name == "" {
		return "", fmt.Errorf("security policy uri %q has no policy name", uri)
	}
	return name, nil
}

// ModeName maps an endpoint security mode onto the mode requested from the
// stack. Sign maps to "Sign"; every other mode maps to "SignAndEncrypt".
func ModeName(mode MessageSecurityMode) string {
	if mode == MessageSecurityModeSign {
		return "Sign"
	}
	return "SignAndEncrypt"
}

// securityFor builds the security configuration for a secure endpoint and
// checks that the client certificate and key in certDir are usable.
func securityFor(ep EndpointDescriptor, certDir string) (*SecurityConfig, error) {
	policy, err := PolicyName(ep.SecurityPolicyURI)
	if err != nil {
		return nil, err
	}

	sec := &SecurityConfig{
		Policy:   policy,
		Mode:     ModeName(ep.SecurityMode),
		CertFile: filepath.Join(certDir, ClientCertFile),
		KeyFile:  filepath.Join(certDir, ClientKeyFile),
	}

	certPEM, err := os.ReadFile(sec.CertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	if _, err := LoadCertificate(certPEM); err != nil {
		return nil, err
	}

	keyPEM, err := os.ReadFile(sec.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	if _, err := LoadPrivateKey(keyPEM); err != nil {
		return nil, err
	}

	return sec, nil
}

// LoadCertificate parses the first CERTIFICATE block of a PEM file.
func LoadCertificate(pemData []byte) (*x509.Certificate, error) {
	block, err := findBlock(pemData, "CERTIFICATE")
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return cert, nil
}

// LoadPrivateKey parses the first RSA key of a PEM file, in PKCS#1 or
// PKCS#8 form. OPC UA security policies only use RSA.
func LoadPrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, err := findBlock(pemData, "RSA PRIVATE KEY", "PRIVATE KEY")
	if err != nil {
		return nil, err
	}

	if block.Type == "RSA PRIVATE KEY" {
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	return key, nil
}

// findBlock returns the first PEM block whose type is one of types.
func findBlock(data []byte, types ...string) (*pem.Block, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no %s block found", strings.Join(types, " or "))
		}
		for _, t := range types {
			if block.Type == t {
				return block, nil
			}
		}
	}
}
