package jsonutil

import (
	"encoding/json"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var jsonConfValidationOn = jsoniter.ConfigCompatibleWithStandardLibrary

// UnmarshalValid unmarshals with strict JSON validation.
func UnmarshalValid(data []byte, v interface{}) error {
	if err := jsonConfValidationOn.Unmarshal(data, v); err != nil {
		return err
	}
	if !json.Valid(data) {
		return errors.New("invalid JSON: trailing or malformed content")
	}
	return nil
}

// Unmarshal unmarshals a value using the stdlib-compatible config.
func Unmarshal(data []byte, v interface{}) error {
	return jsonConfValidationOn.Unmarshal(data, v)
}

// Marshal marshals a value using the stdlib-compatible config.
func Marshal(v interface{}) ([]byte, error) {
	return jsonConfValidationOn.Marshal(v)
}
