//go:build !CONFIG_USE_SONIC

// Package jsonutil is the shared JSON backend for the wire codec
// (pkg/wire) and config loading (pkg/common): stdlib encoding/json here,
// sonic when built with CONFIG_USE_SONIC, behind one API so neither the
// frame codec nor config loading cares which is linked in.
package jsonutil

import "encoding/json"

// Marshal serializes a value to JSON with unified error handling.
// A nil input marshals to "null"; encoder errors are returned wrapped.
func Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, wrapError("jsonutil.Marshal failed", err)
	}
	return data, nil
}

// Unmarshal deserializes JSON data with unified error handling.
// Returns ErrInvalidOutput if v is nil; a non-nil, non-pointer v is
// rejected by the decoder and that error is returned wrapped.
// Returns ErrValueTooLarge if data exceeds MaxJSONSize.
func Unmarshal(data []byte, v interface{}) error {
	if v == nil {
		return ErrInvalidOutput
	}
	if len(data) > MaxJSONSize {
		return ErrValueTooLarge
	}
	err := json.Unmarshal(data, v)
	if err != nil {
		return wrapError("jsonutil.Unmarshal failed", err)
	}
	return nil
}

// MarshalIndent serializes a value to indented JSON with unified error handling.
// A nil input marshals to "null"; encoder errors are returned wrapped.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	data, err := json.MarshalIndent(v, prefix, indent)
	if err != nil {
		return nil, wrapError("jsonutil.MarshalIndent failed", err)
	}
	return data, nil
}
