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
	"errors"
	"fmt"
)

// Kind identifies the failure category of a gateway operation.
type Kind uint8

// Error kinds.
const (
	KindUnknown Kind = iota
	KindValidation
	KindDiscovery
	KindAlreadyConnected
	KindNotConnected
	KindConnect
	KindDisconnect
	KindRead
	KindWrite
	KindRegister
	KindUnregister
	KindSubscribe
	KindUnsubscribe
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindValidation:       "validation",
	KindDiscovery:        "discovery",
	KindAlreadyConnected: "already_connected",
	KindNotConnected:     "not_connected",
	KindConnect:          "connect",
	KindDisconnect:       "disconnect",
	KindRead:             "read",
	KindWrite:            "write",
	KindRegister:         "register",
	KindUnregister:       "unregister",
	KindSubscribe:        "subscribe",
	KindUnsubscribe:      "unsubscribe",
	KindNotFound:         "not_found",
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Class groups error kinds by how a caller should react to them.
type Class uint8

// Error classes.
const (
	// ClassFailed means the operation reached the server and failed there.
	ClassFailed Class = iota
	// ClassBadInput means the request was rejected before any I/O.
	ClassBadInput
	// ClassNotReady means the session is in the wrong state for the request.
	ClassNotReady
	// ClassNotFound means the referenced entity does not exist.
	ClassNotFound
)

// Class returns the classification of the kind.
func (k Kind) Class() Class {
	switch k {
	case KindValidation:
		return ClassBadInput
	case KindAlreadyConnected, KindNotConnected:
		return ClassNotReady
	case KindNotFound:
		return ClassNotFound
	default:
		return ClassFailed
	}
}

// Error is returned by every gateway operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("gateway: %s: %s", e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("gateway: %s: %s", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("gateway: %s: %s", e.Op, kindMessages[e.Kind])
	default:
		return "gateway: " + kindMessages[e.Kind]
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var kindMessages = map[Kind]string{
	KindUnknown:          "unknown error",
	KindValidation:       "invalid request",
	KindDiscovery:        "endpoint discovery failed",
	KindAlreadyConnected: "already connected",
	KindNotConnected:     "not connected to OPC UA server",
	KindConnect:          "connect failed",
	KindDisconnect:       "disconnect failed",
	KindRead:             "read failed",
	KindWrite:            "write failed",
	KindRegister:         "register failed",
	KindUnregister:       "unregister failed",
	KindSubscribe:        "subscribe failed",
	KindUnsubscribe:      "unsubscribe failed",
	KindNotFound:         "not found",
}

// Sentinel errors for errors.Is comparisons. Matching is by kind only.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrDiscovery        = &Error{Kind: KindDiscovery}
	ErrAlreadyConnected = &Error{Kind: KindAlreadyConnected}
	ErrNotConnected     = &Error{Kind: KindNotConnected}
	ErrConnect          = &Error{Kind: KindConnect}
	ErrDisconnect       = &Error{Kind: KindDisconnect}
	ErrRead             = &Error{Kind: KindRead}
	ErrWrite            = &Error{Kind: KindWrite}
	ErrRegister         = &Error{Kind: KindRegister}
	ErrUnregister       = &Error{Kind: KindUnregister}
	ErrSubscribe        = &Error{Kind: KindSubscribe}
	ErrUnsubscribe      = &Error{Kind: KindUnsubscribe}
	ErrNotFound         = &Error{Kind: KindNotFound}
)

// ErrNoEndpoints is wrapped by discovery errors when the server answered
// with an empty endpoint list.
var ErrNoEndpoints = errors.New("no endpoints found")

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func validationError(op, format string, args ...any) *Error {
	return newError(KindValidation, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of err, or KindUnknown if err is not a gateway error.
func KindOf(err error) Kind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return KindUnknown
}

// ClassOf returns the class of err. Foreign errors are ClassFailed.
func ClassOf(err error) Class {
	return KindOf(err).Class()
}

// IsNotConnected checks if the error indicates the session is not connected.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// IsAlreadyConnected checks if the error indicates a session already exists.
func IsAlreadyConnected(err error) bool {
	return errors.Is(err, ErrAlreadyConnected)
}

// IsNotFound checks if the error indicates an unknown subscription.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error indicates a malformed request.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNoEndpoints checks if discovery reached the server but found nothing.
func IsNoEndpoints(err error) bool {
	return errors.Is(err, ErrNoEndpoints)
}
