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
	"fmt"
	"strconv"
)

// DataType is the declared type of a writable node, reduced to the set of
// types the gateway can coerce textual values into.
type DataType uint8

// Data types.
const (
	DataTypeUnsupported DataType = iota
	DataTypeFloat                // OPC UA Double
	DataTypeInt16
	DataTypeBoolean
)

// String returns the string representation of the data type.
func (t DataType) String() string {
	switch t {
	case DataTypeFloat:
		return "Float"
	case DataTypeInt16:
		return "Int16"
	case DataTypeBoolean:
		return "Boolean"
	default:
		return "Unsupported"
	}
}

// TypedValue is a value ready to be written to a node of the given type.
// Value holds a float64, int16 or bool matching Type.
type TypedValue struct {
	Type  DataType
	Value any
}

// BooleanTrue is the only textual value coerced to true.
const BooleanTrue = "True"

// Coerce converts a textual value into a TypedValue for t. The boolean
// reports whether t is supported at all; unsupported types are never an
// error.
func (t DataType) Coerce(raw string) (TypedValue, bool, error) {
	switch t {
	case DataTypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return TypedValue{}, true, fmt.Errorf("value %q is not a float: %w", raw, err)
		}
		return TypedValue{Type: t, Value: f}, true, nil
	case DataTypeInt16:
		i, err := strconv.ParseInt(raw, 10, 16)
		if err != nil {
			return TypedValue{}, true, fmt.Errorf("value %q is not an int16: %w", raw, err)
		}
		return TypedValue{Type: t, Value: int16(i)}, true, nil
	case DataTypeBoolean:
		return TypedValue{Type: t, Value: raw == BooleanTrue}, true, nil
	case DataTypeUnsupported:
		return TypedValue{}, false, nil
	default:
		return TypedValue{}, false, nil
	}
}
