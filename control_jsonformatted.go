// Copyright (c) the cldap Authors
// SPDX-License-Identifier: MIT

package cldap

import (
	"encoding/json"
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"golang.org/x/exp/slices"
)

// JSON-formatted controls - composite controls whose value is a JSON object
// holding an ordered, non-empty list of embedded JSON control objects.
const (
	ControlTypeJSONFormattedRequest  = "1.3.6.1.4.1.30221.2.5.64"
	ControlTypeJSONFormattedResponse = "1.3.6.1.4.1.30221.2.5.65"
)

const (
	jsonFormattedRequestControlName  = "JSON-Formatted Request Control"
	jsonFormattedResponseControlName = "JSON-Formatted Response Control"
)

// JSONFormattedControlDecodeBehavior configures how the embedded controls of
// a JSON-formatted control are decoded.  The zero value is maximally
// lenient; DefaultJSONFormattedControlDecodeBehavior returns the default
// strict-on-errors configuration.
type JSONFormattedControlDecodeBehavior struct {
	// FailOnUnparsableObject fails the whole decode when an embedded object
	// isn't even a valid generic control.  When false the object is skipped
	// with a non-fatal message.
	FailOnUnparsableObject bool

	// FailOnInvalidCriticalControl fails the whole decode when an embedded
	// object is a valid generic control marked critical but fails its
	// type-specific decode.  When false the control is skipped with a
	// non-fatal message.
	FailOnInvalidCriticalControl bool

	// FailOnInvalidNonCriticalControl is the non-critical counterpart of
	// FailOnInvalidCriticalControl.
	FailOnInvalidNonCriticalControl bool

	// Strict is propagated into each embedded control's JSON decode, where
	// it rejects unrecognized value-json sub-fields.
	Strict bool

	// AllowEmbeddedJSONFormattedControl permits an embedded control that is
	// itself a JSON-formatted control.  Off by default to prevent unbounded
	// nesting; a rejected nested control follows the same
	// critical/non-critical fail-or-skip rule as any other invalid embedded
	// control.
	AllowEmbeddedJSONFormattedControl bool
}

// DefaultJSONFormattedControlDecodeBehavior returns the default decode
// behavior: fail on unparsable objects and on invalid embedded controls of
// either criticality, lenient JSON field validation, nesting not allowed.
func DefaultJSONFormattedControlDecodeBehavior() JSONFormattedControlDecodeBehavior {
	return JSONFormattedControlDecodeBehavior{
		FailOnUnparsableObject:          true,
		FailOnInvalidCriticalControl:    true,
		FailOnInvalidNonCriticalControl: true,
	}
}

type jsonFormattedControlValue struct {
	Controls []json.RawMessage `json:"controls"`
}

// jsonFormattedControl is the shared implementation of the request and
// response variants; only the OID and name differ.
type jsonFormattedControl struct {
	oid         string
	name        string
	criticality bool
	objects     []json.RawMessage
	value       []byte
}

func newJSONFormattedControl(oid, name string, objects []json.RawMessage, op string, opt ...Option) (jsonFormattedControl, error) {
	if len(objects) == 0 {
		return jsonFormattedControl{}, fmt.Errorf("%s: empty embedded control list: %w", op, ErrInvalidParameter)
	}
	opts := getControlOpts(opt...)
	c := jsonFormattedControl{oid: oid, name: name, objects: slices.Clone(objects)}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	value, err := json.Marshal(&jsonFormattedControlValue{Controls: c.objects})
	if err != nil {
		return jsonFormattedControl{}, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrInternal)
	}
	c.value = value
	return c, nil
}

func controlObjectsToRaw(objects []*JSONControlObject, op string) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(objects))
	for _, obj := range objects {
		if obj == nil {
			return nil, fmt.Errorf("%s: nil embedded control object: %w", op, ErrInvalidParameter)
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrInternal)
		}
		raw = append(raw, data)
	}
	return raw, nil
}

func controlsToRaw(controls []Control, op string) ([]json.RawMessage, error) {
	objects := make([]*JSONControlObject, 0, len(controls))
	for _, c := range controls {
		obj, err := ControlToJSON(c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		objects = append(objects, obj)
	}
	return controlObjectsToRaw(objects, op)
}

func decodeJSONFormatted(oid, name string, criticality bool, value []byte) (jsonFormattedControl, error) {
	const op = "cldap.decodeJSONFormatted"
	if value == nil {
		return jsonFormattedControl{}, fmt.Errorf("%s: missing required value: %w", op, ErrDecoding)
	}
	// The composite's own value is validated strictly: only the controls
	// field is recognized at this level.
	var parsed jsonFormattedControlValue
	if err := unmarshalControlValue(value, true, &parsed, op); err != nil {
		return jsonFormattedControl{}, err
	}
	if parsed.Controls == nil {
		return jsonFormattedControl{}, fmt.Errorf("%s: missing required field: controls: %w", op, ErrDecoding)
	}
	if len(parsed.Controls) == 0 {
		return jsonFormattedControl{}, fmt.Errorf("%s: empty embedded control list: %w", op, ErrDecoding)
	}
	for i, raw := range parsed.Controls {
		if !isJSONObject(raw) {
			return jsonFormattedControl{}, fmt.Errorf("%s: malformed structure: embedded control %d is not a JSON object: %w", op, i, ErrDecoding)
		}
	}
	return jsonFormattedControl{
		oid:         oid,
		name:        name,
		criticality: criticality,
		objects:     parsed.Controls,
		value:       slices.Clone(value),
	}, nil
}

// GetControlType returns the OID
func (c *jsonFormattedControl) GetControlType() string { return c.oid }

// GetCriticality returns the criticality flag
func (c *jsonFormattedControl) GetCriticality() bool { return c.criticality }

// GetValue returns the encoded control value, which is the UTF-8 JSON text
// of the value object
func (c *jsonFormattedControl) GetValue() []byte { return slices.Clone(c.value) }

// GetControlName returns a human-readable name for the control
func (c *jsonFormattedControl) GetControlName() string { return c.name }

// ControlObjects returns the raw embedded control objects in order
func (c *jsonFormattedControl) ControlObjects() []json.RawMessage { return slices.Clone(c.objects) }

// Encode returns the ber packet representation
func (c *jsonFormattedControl) Encode() *ber.Packet {
	return encodeControlEnvelope(c.oid, c.criticality, c.value, c.name)
}

// String returns a human-readable description
func (c *jsonFormattedControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  EmbeddedControls: %d",
		c.name, c.oid, c.criticality, len(c.objects))
}

// MarshalJSONControl returns the JSON object form of the control
func (c *jsonFormattedControl) MarshalJSONControl() (*JSONControlObject, error) {
	return &JSONControlObject{
		OID:         c.oid,
		ControlName: c.name,
		Criticality: c.criticality,
		ValueJSON:   slices.Clone(c.value),
	}, nil
}

// DecodeEmbeddedControls decodes every embedded control object according to
// the given behavior.  It returns the successfully decoded controls in
// order, plus a non-fatal diagnostic message for every embedded object the
// behavior asked to skip rather than fail on.  Callers wanting strict
// protocol conformance use the default behavior and get an error; callers
// wanting best-effort extraction flip the fail flags off and get a partial
// result plus the diagnostic trail, never a silent full failure.
//
// Supported options: WithRegistry.
func (c *jsonFormattedControl) DecodeEmbeddedControls(behavior JSONFormattedControlDecodeBehavior, opt ...Option) ([]Control, []string, error) {
	const op = "cldap.(jsonFormattedControl).DecodeEmbeddedControls"
	opts := getRegistryOpts(opt...)
	reg := opts.withRegistry
	if reg == nil {
		reg = DefaultRegistry()
	}

	var (
		controls []Control
		messages []string
	)
	for i, raw := range c.objects {
		obj, err := ParseJSONControlObject(raw)
		if err != nil {
			if behavior.FailOnUnparsableObject {
				return nil, messages, fmt.Errorf("%s: embedded control %d: %w", op, i, err)
			}
			messages = append(messages, fmt.Sprintf("skipped unparsable embedded control %d: %s", i, err.Error()))
			continue
		}

		var decodeErr error
		if isJSONFormattedOID(obj.OID) && !behavior.AllowEmbeddedJSONFormattedControl {
			decodeErr = fmt.Errorf("%s: embedded control %d: nested JSON-formatted control %q is not allowed: %w", op, i, obj.OID, ErrDecoding)
		} else {
			var decoded Control
			decoded, decodeErr = reg.DecodeJSON(obj, behavior.Strict)
			if decodeErr == nil {
				controls = append(controls, decoded)
				continue
			}
		}

		if obj.Criticality && behavior.FailOnInvalidCriticalControl {
			return nil, messages, fmt.Errorf("%s: embedded control %d (oid %q, critical): %w", op, i, obj.OID, decodeErr)
		}
		if !obj.Criticality && behavior.FailOnInvalidNonCriticalControl {
			return nil, messages, fmt.Errorf("%s: embedded control %d (oid %q): %w", op, i, obj.OID, decodeErr)
		}
		messages = append(messages, fmt.Sprintf("skipped invalid embedded control %d (oid %q): %s", i, obj.OID, decodeErr.Error()))
	}
	return controls, messages, nil
}

func isJSONFormattedOID(oid string) bool {
	return oid == ControlTypeJSONFormattedRequest || oid == ControlTypeJSONFormattedResponse
}

// JSONFormattedRequestControl is a request control that carries other
// request controls as JSON control objects, for transports and gateways
// that work with the JSON representation.
type JSONFormattedRequestControl struct{ jsonFormattedControl }

// NewJSONFormattedRequestControl creates a JSON-formatted request control
// embedding the given controls.  The list must be non-empty.  Supported
// options: WithCriticality.
func NewJSONFormattedRequestControl(controls []Control, opt ...Option) (*JSONFormattedRequestControl, error) {
	const op = "cldap.NewJSONFormattedRequestControl"
	raw, err := controlsToRaw(controls, op)
	if err != nil {
		return nil, err
	}
	base, err := newJSONFormattedControl(ControlTypeJSONFormattedRequest, jsonFormattedRequestControlName, raw, op, opt...)
	if err != nil {
		return nil, err
	}
	return &JSONFormattedRequestControl{base}, nil
}

// NewJSONFormattedRequestControlFromObjects creates a JSON-formatted
// request control from already-built JSON control objects.  The list must
// be non-empty.  Supported options: WithCriticality.
func NewJSONFormattedRequestControlFromObjects(objects []*JSONControlObject, opt ...Option) (*JSONFormattedRequestControl, error) {
	const op = "cldap.NewJSONFormattedRequestControlFromObjects"
	raw, err := controlObjectsToRaw(objects, op)
	if err != nil {
		return nil, err
	}
	base, err := newJSONFormattedControl(ControlTypeJSONFormattedRequest, jsonFormattedRequestControlName, raw, op, opt...)
	if err != nil {
		return nil, err
	}
	return &JSONFormattedRequestControl{base}, nil
}

func decodeJSONFormattedRequestControl(oid string, criticality bool, value []byte) (Control, error) {
	base, err := decodeJSONFormatted(ControlTypeJSONFormattedRequest, jsonFormattedRequestControlName, criticality, value)
	if err != nil {
		return nil, err
	}
	return &JSONFormattedRequestControl{base}, nil
}

func decodeJSONFormattedRequestControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	base, err := decodeJSONFormatted(ControlTypeJSONFormattedRequest, jsonFormattedRequestControlName, obj.Criticality, obj.ValueJSON)
	if err != nil {
		return nil, err
	}
	return &JSONFormattedRequestControl{base}, nil
}

// JSONFormattedResponseControl is the response counterpart of
// JSONFormattedRequestControl.
type JSONFormattedResponseControl struct{ jsonFormattedControl }

// NewJSONFormattedResponseControl creates a JSON-formatted response control
// embedding the given controls.  The list must be non-empty.  Supported
// options: WithCriticality.
func NewJSONFormattedResponseControl(controls []Control, opt ...Option) (*JSONFormattedResponseControl, error) {
	const op = "cldap.NewJSONFormattedResponseControl"
	raw, err := controlsToRaw(controls, op)
	if err != nil {
		return nil, err
	}
	base, err := newJSONFormattedControl(ControlTypeJSONFormattedResponse, jsonFormattedResponseControlName, raw, op, opt...)
	if err != nil {
		return nil, err
	}
	return &JSONFormattedResponseControl{base}, nil
}

// NewJSONFormattedResponseControlFromObjects creates a JSON-formatted
// response control from already-built JSON control objects.  The list must
// be non-empty.  Supported options: WithCriticality.
func NewJSONFormattedResponseControlFromObjects(objects []*JSONControlObject, opt ...Option) (*JSONFormattedResponseControl, error) {
	const op = "cldap.NewJSONFormattedResponseControlFromObjects"
	raw, err := controlObjectsToRaw(objects, op)
	if err != nil {
		return nil, err
	}
	base, err := newJSONFormattedControl(ControlTypeJSONFormattedResponse, jsonFormattedResponseControlName, raw, op, opt...)
	if err != nil {
		return nil, err
	}
	return &JSONFormattedResponseControl{base}, nil
}

func decodeJSONFormattedResponseControl(oid string, criticality bool, value []byte) (Control, error) {
	base, err := decodeJSONFormatted(ControlTypeJSONFormattedResponse, jsonFormattedResponseControlName, criticality, value)
	if err != nil {
		return nil, err
	}
	return &JSONFormattedResponseControl{base}, nil
}

func decodeJSONFormattedResponseControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	base, err := decodeJSONFormatted(ControlTypeJSONFormattedResponse, jsonFormattedResponseControlName, obj.Criticality, obj.ValueJSON)
	if err != nil {
		return nil, err
	}
	return &JSONFormattedResponseControl{base}, nil
}

// FindJSONFormattedResponse returns the first JSON-formatted response
// control in a decoded control list, or nil when there isn't one.
func FindJSONFormattedResponse(controls []Control) *JSONFormattedResponseControl {
	for _, c := range controls {
		if rc, ok := c.(*JSONFormattedResponseControl); ok {
			return rc
		}
	}
	return nil
}
