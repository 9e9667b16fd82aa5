// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package canonical implements the deterministic serialization and content
// digest used to address DAG entries.
//
// The serialized form is JSON-compatible text with these rules:
//
//   - object keys are sorted lexicographically (byte order)
//   - array elements are emitted in the lexicographic order of their decimal
//     indices, so element 10 sorts before element 2
//   - strings are quoted; only `\` and `"` are escaped
//   - integral numbers never carry a fractional part
//   - nil is not a value
//
// Equal serializations imply equal logical values, which is what makes the
// digest usable as an identity.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package canonical

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnsupportedValue is returned when a value has no canonical form.
	ErrUnsupportedValue = errors.New("value cannot be serialized")

	// ErrMalformedSet is returned when a set literal holds anything other
	// than empty-string markers.
	ErrMalformedSet = errors.New("malformed set literal")
)

// Serialize renders v in canonical form.
//
// Description:
//
//	Accepts strings, booleans, every Go integer and float kind,
//	json.Number, maps keyed by string, and slices or arrays of any of
//	these, nested arbitrarily.
//
// Inputs:
//
//	v - The value to serialize.
//
// Outputs:
//
//	string - The canonical text.
//	error - ErrUnsupportedValue (wrapped) if any part of v has no canonical
//	form, including nil, NaN and infinities.
func Serialize(v any) (string, error) {
	var sb strings.Builder
	if err := write(&sb, reflect.ValueOf(v)); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Digest returns the base64 (standard, padded) SHA-256 of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Hash is Digest(Serialize(v)).
func Hash(v any) (string, error) {
	s, err := Serialize(v)
	if err != nil {
		return "", err
	}
	return Digest(s), nil
}

var jsonNumberType = reflect.TypeOf(json.Number(""))

func write(sb *strings.Builder, v reflect.Value) error {
	if !v.IsValid() {
		return fmt.Errorf("%w: nil", ErrUnsupportedValue)
	}

	if v.Type() == jsonNumberType {
		sb.WriteString(v.String())
		return nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return fmt.Errorf("%w: nil", ErrUnsupportedValue)
		}
		return write(sb, v.Elem())

	case reflect.String:
		writeString(sb, v.String())

	case reflect.Bool:
		sb.WriteString(strconv.FormatBool(v.Bool()))

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sb.WriteString(strconv.FormatInt(v.Int(), 10))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		sb.WriteString(strconv.FormatUint(v.Uint(), 10))

	case reflect.Float32, reflect.Float64:
		s, err := formatFloat(v.Float())
		if err != nil {
			return err
		}
		sb.WriteString(s)

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map keyed by %s", ErrUnsupportedValue, v.Type().Key())
		}
		if v.IsNil() {
			sb.WriteString("{}")
			return nil
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeString(sb, k)
			sb.WriteByte(':')
			if err := write(sb, v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key()))); err != nil {
				return err
			}
		}
		sb.WriteByte('}')

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			sb.WriteString("[]")
			return nil
		}
		sb.WriteByte('[')
		for i, idx := range indexOrder(v.Len()) {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := write(sb, v.Index(idx)); err != nil {
				return err
			}
		}
		sb.WriteByte(']')

	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedValue, v.Type())
	}

	return nil
}

func writeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '"' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('"')
}

// indexOrder returns 0..n-1 sorted by their decimal string form.
func indexOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if n > 10 {
		sort.Slice(order, func(a, b int) bool {
			return strconv.Itoa(order[a]) < strconv.Itoa(order[b])
		})
	}
	return order
}

// formatFloat renders f as the shortest round-tripping decimal, using
// exponent notation only outside [1e-6, 1e21).
func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedValue, f)
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits, nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
