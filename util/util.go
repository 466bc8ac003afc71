/*
Copyright (c) Edgeless Systems GmbH

SPDX-License-Identifier: BUSL-1.1
*/

package util

import (
	"errors"
	"log"
	"os"
)

// XORBytes XORs two byte slices of equal length. Combining the two root key
// shares this way reconstructs the root secret; the pipeline itself only
// uses it in tests, since the combined key must never exist on the
// manufacturing host.
func XORBytes(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, errors.New("byte slices differ in length")
	}
	result := make([]byte, len(a))
	for i := range a {
		result[i] = a[i] ^ b[i]
	}
	return result, nil
}

// MustGetenv returns the environment variable `name` if it exists or panics otherwise.
func MustGetenv(name string) string {
	value := os.Getenv(name)
	if len(value) == 0 {
		log.Fatalln("environment variable not set:", name)
	}
	return value
}

// Getenv returns the environment variable `name` if it exists or the handed fallback value elsewise.
func Getenv(name string, fallback string) string {
	value := os.Getenv(name)
	if len(value) == 0 {
		return fallback
	}
	return value
}
