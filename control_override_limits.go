package cldap

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"golang.org/x/exp/slices"
)

// ControlTypeOverrideSearchLimits - the request control supported by the
// Ping Identity directory server for overriding search limits (lookthrough
// limit, time limit, etc.) for a single search operation.
const ControlTypeOverrideSearchLimits = "1.3.6.1.4.1.30221.2.5.56"

const overrideSearchLimitsControlName = "Override Search Limits Request Control"

// SearchLimitProperty is one named limit override.
type SearchLimitProperty struct {
	Name  string
	Value string
}

// OverrideSearchLimitsControl carries an ordered, non-empty set of named
// property overrides.  Property names must be unique.
type OverrideSearchLimitsControl struct {
	criticality bool
	properties  []SearchLimitProperty
	value       []byte
}

// NewOverrideSearchLimitsControl creates an override search limits request
// for the given properties.  The list must be non-empty, names and values
// must be non-empty, and names must be unique.  Supported options:
// WithCriticality.
func NewOverrideSearchLimitsControl(properties []SearchLimitProperty, opt ...Option) (*OverrideSearchLimitsControl, error) {
	const op = "cldap.NewOverrideSearchLimitsControl"
	if err := validateSearchLimitProperties(properties, op, ErrInvalidParameter); err != nil {
		return nil, err
	}
	opts := getControlOpts(opt...)
	c := &OverrideSearchLimitsControl{
		properties: slices.Clone(properties),
	}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	c.value = c.encodeValue()
	return c, nil
}

func validateSearchLimitProperties(properties []SearchLimitProperty, op string, kind error) error {
	if len(properties) == 0 {
		return fmt.Errorf("%s: empty property list: %w", op, kind)
	}
	seen := make(map[string]struct{}, len(properties))
	for _, p := range properties {
		if p.Name == "" {
			return fmt.Errorf("%s: property with missing name: %w", op, kind)
		}
		if p.Value == "" {
			return fmt.Errorf("%s: property %q with missing value: %w", op, p.Name, kind)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%s: duplicate key: property %q: %w", op, p.Name, kind)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

func (c *OverrideSearchLimitsControl) encodeValue() []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Properties")
	for _, p := range c.properties {
		prop := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Property")
		prop.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, p.Name, "Name"))
		prop.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, p.Value, "Value"))
		seq.AppendChild(prop)
	}
	return seq.Bytes()
}

func decodeOverrideSearchLimitsControl(oid string, criticality bool, value []byte) (Control, error) {
	const op = "cldap.decodeOverrideSearchLimitsControl"
	if value == nil {
		return nil, fmt.Errorf("%s: missing required value: %w", op, ErrDecoding)
	}
	children, err := decodeValueSequence(value, op)
	if err != nil {
		return nil, err
	}
	properties := make([]SearchLimitProperty, 0, len(children))
	for _, propPacket := range children {
		if propPacket.ClassType != ber.ClassUniversal || propPacket.TagType != ber.TypeConstructed || propPacket.Tag != ber.TagSequence {
			return nil, fmt.Errorf("%s: malformed structure: property is not a sequence: %w", op, ErrDecoding)
		}
		name, err := requireStringChild(propPacket.Children, 0, "property name", op)
		if err != nil {
			return nil, err
		}
		propValue, err := requireStringChild(propPacket.Children, 1, "property value", op)
		if err != nil {
			return nil, err
		}
		properties = append(properties, SearchLimitProperty{Name: string(name), Value: string(propValue)})
	}
	if err := validateSearchLimitProperties(properties, op, ErrDecoding); err != nil {
		return nil, err
	}
	c := &OverrideSearchLimitsControl{
		criticality: criticality,
		properties:  properties,
		value:       slices.Clone(value),
	}
	return c, nil
}

// GetControlType returns the OID
func (c *OverrideSearchLimitsControl) GetControlType() string { return ControlTypeOverrideSearchLimits }

// GetCriticality returns the criticality flag
func (c *OverrideSearchLimitsControl) GetCriticality() bool { return c.criticality }

// GetValue returns the encoded control value
func (c *OverrideSearchLimitsControl) GetValue() []byte { return slices.Clone(c.value) }

// GetControlName returns a human-readable name for the control
func (c *OverrideSearchLimitsControl) GetControlName() string { return overrideSearchLimitsControlName }

// Properties returns the limit override properties in order
func (c *OverrideSearchLimitsControl) Properties() []SearchLimitProperty {
	return slices.Clone(c.properties)
}

// Property returns the value for a named property, or "" when absent
func (c *OverrideSearchLimitsControl) Property(name string) string {
	for _, p := range c.properties {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// Encode returns the ber packet representation
func (c *OverrideSearchLimitsControl) Encode() *ber.Packet {
	return encodeControlEnvelope(ControlTypeOverrideSearchLimits, c.criticality, c.value, overrideSearchLimitsControlName)
}

// String returns a human-readable description
func (c *OverrideSearchLimitsControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  Properties: %+v",
		overrideSearchLimitsControlName, ControlTypeOverrideSearchLimits, c.criticality, c.properties)
}

type searchLimitPropertyValue struct {
	Name  *string `json:"name"`
	Value *string `json:"value"`
}

type overrideSearchLimitsControlValue struct {
	Properties []searchLimitPropertyValue `json:"properties"`
}

// MarshalJSONControl returns the JSON object form of the control
func (c *OverrideSearchLimitsControl) MarshalJSONControl() (*JSONControlObject, error) {
	const op = "cldap.(OverrideSearchLimitsControl).MarshalJSONControl"
	props := make([]searchLimitPropertyValue, 0, len(c.properties))
	for _, p := range c.properties {
		name, value := p.Name, p.Value
		props = append(props, searchLimitPropertyValue{Name: &name, Value: &value})
	}
	value, err := marshalControlValue(&overrideSearchLimitsControlValue{Properties: props}, op)
	if err != nil {
		return nil, err
	}
	return &JSONControlObject{
		OID:         ControlTypeOverrideSearchLimits,
		ControlName: overrideSearchLimitsControlName,
		Criticality: c.criticality,
		ValueJSON:   value,
	}, nil
}

func decodeOverrideSearchLimitsControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	const op = "cldap.decodeOverrideSearchLimitsControlJSON"
	var value overrideSearchLimitsControlValue
	if err := unmarshalControlValue(obj.ValueJSON, strict, &value, op); err != nil {
		return nil, err
	}
	if value.Properties == nil {
		return nil, fmt.Errorf("%s: missing required field: properties: %w", op, ErrDecoding)
	}
	properties := make([]SearchLimitProperty, 0, len(value.Properties))
	for _, p := range value.Properties {
		if p.Name == nil {
			return nil, fmt.Errorf("%s: missing required field: name: %w", op, ErrDecoding)
		}
		if p.Value == nil {
			return nil, fmt.Errorf("%s: missing required field: value: %w", op, ErrDecoding)
		}
		properties = append(properties, SearchLimitProperty{Name: *p.Name, Value: *p.Value})
	}
	if err := validateSearchLimitProperties(properties, op, ErrDecoding); err != nil {
		return nil, err
	}
	c, err := NewOverrideSearchLimitsControl(properties, WithCriticality(obj.Criticality))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}
