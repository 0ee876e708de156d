// Copyright (c) the cldap Authors
// SPDX-License-Identifier: MIT

package cldap

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// JSONControlObject is the JSON interchange form of a control:
//
//	{
//	  "oid": "1.2.840.113556.1.4.319",
//	  "control-name": "Simple Paged Results Request Control",
//	  "criticality": false,
//	  "value-base64": "...",
//	  "value-json": { ... }
//	}
//
// At most one of ValueBase64/ValueJSON may be set, and neither is set when
// the control has no value.  ControlName is descriptive metadata only and is
// never used to determine the control type on decode; only the OID is
// authoritative.
type JSONControlObject struct {
	OID         string          `json:"oid"`
	ControlName string          `json:"control-name,omitempty"`
	Criticality bool            `json:"criticality"`
	ValueBase64 []byte          `json:"value-base64,omitempty"`
	ValueJSON   json.RawMessage `json:"value-json,omitempty"`
}

// JSONControl is implemented by every control in the catalog that can
// represent its value as a structured JSON object.  Controls that only carry
// an opaque value fall back to the value-base64 form via ControlToJSON.
type JSONControl interface {
	Control
	// GetControlName returns a human-readable name for the control.  It is
	// emitted as non-authoritative metadata in the JSON form.
	GetControlName() string
	// MarshalJSONControl returns the JSON object form of the control.
	MarshalJSONControl() (*JSONControlObject, error)
}

// ControlToJSON converts any control to its JSON object form.  Controls
// implementing JSONControl emit a structured value-json; everything else
// gets a value-base64 passthrough of its opaque value.
func ControlToJSON(c Control) (*JSONControlObject, error) {
	const op = "cldap.ControlToJSON"
	if isNil(c) {
		return nil, fmt.Errorf("%s: missing control: %w", op, ErrInvalidParameter)
	}
	if jc, ok := c.(JSONControl); ok {
		obj, err := jc.MarshalJSONControl()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return obj, nil
	}
	return &JSONControlObject{
		OID:         c.GetControlType(),
		Criticality: c.GetCriticality(),
		ValueBase64: c.GetValue(),
	}, nil
}

// ParseJSONControlObject parses and validates the top level of a JSON
// control object: oid and criticality are mandatory and must be correctly
// typed, value-base64 must be valid base64, value-json must be a JSON
// object, and at most one of the two may be present.
func ParseJSONControlObject(data []byte) (*JSONControlObject, error) {
	const op = "cldap.ParseJSONControlObject"
	var raw struct {
		OID         *string         `json:"oid"`
		ControlName *string         `json:"control-name"`
		Criticality *bool           `json:"criticality"`
		ValueBase64 *string         `json:"value-base64"`
		ValueJSON   json.RawMessage `json:"value-json"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: malformed structure: %s: %w", op, err.Error(), ErrDecoding)
	}
	// an explicit "value-json": null is the same as an absent field, matching
	// how json.Unmarshal already treats a null value-base64
	if raw.ValueJSON != nil && strings.TrimSpace(string(raw.ValueJSON)) == "null" {
		raw.ValueJSON = nil
	}
	if raw.OID == nil || *raw.OID == "" {
		return nil, fmt.Errorf("%s: missing required field: oid: %w", op, ErrDecoding)
	}
	if raw.Criticality == nil {
		return nil, fmt.Errorf("%s: missing required field: criticality: %w", op, ErrDecoding)
	}
	if raw.ValueBase64 != nil && raw.ValueJSON != nil {
		return nil, fmt.Errorf("%s: ambiguous variant: both value-base64 and value-json are present: %w", op, ErrDecoding)
	}

	obj := &JSONControlObject{
		OID:         *raw.OID,
		Criticality: *raw.Criticality,
	}
	if raw.ControlName != nil {
		obj.ControlName = *raw.ControlName
	}
	if raw.ValueBase64 != nil {
		value, err := base64.StdEncoding.DecodeString(*raw.ValueBase64)
		if err != nil {
			return nil, fmt.Errorf("%s: malformed structure: invalid base64 in value-base64: %w", op, ErrDecoding)
		}
		obj.ValueBase64 = value
	}
	if raw.ValueJSON != nil {
		if !isJSONObject(raw.ValueJSON) {
			return nil, fmt.Errorf("%s: malformed structure: value-json is not an object: %w", op, ErrDecoding)
		}
		obj.ValueJSON = raw.ValueJSON
	}
	return obj, nil
}

// HasValue reports whether the object carries either form of value.
func (o *JSONControlObject) HasValue() bool {
	return o.ValueBase64 != nil || o.ValueJSON != nil
}

// isJSONObject reports whether raw is a JSON object (as opposed to a string,
// number, bool, array or null).  The variant is decided here, once, so
// decode sites can rely on it.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimLeft(string(raw), " \t\r\n")
	return strings.HasPrefix(trimmed, "{")
}

// unmarshalControlValue decodes a control's value-json object into the
// control-specific value struct.  In strict mode any sub-field outside the
// recognized set is a decode error; in lenient mode unrecognized sub-fields
// are silently ignored for forward compatibility with newer JSON schemas.
func unmarshalControlValue(raw json.RawMessage, strict bool, v interface{}, op string) error {
	if raw == nil {
		return fmt.Errorf("%s: missing required field: value-json: %w", op, ErrDecoding)
	}
	d := json.NewDecoder(bytes.NewReader(raw))
	if strict {
		d.DisallowUnknownFields()
	}
	if err := d.Decode(v); err != nil {
		if strict && strings.Contains(err.Error(), "unknown field") {
			return fmt.Errorf("%s: unrecognized field: %s: %w", op, err.Error(), ErrDecoding)
		}
		return fmt.Errorf("%s: malformed structure: %s: %w", op, err.Error(), ErrDecoding)
	}
	return nil
}

// marshalControlValue encodes a control-specific value struct as the
// value-json object.
func marshalControlValue(v interface{}, op string) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrInternal)
	}
	return data, nil
}
