package cldap

import (
	"fmt"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
	"golang.org/x/exp/slices"
)

// Server-side sort controls - https://www.ietf.org/rfc/rfc2891.txt
const (
	ControlTypeServerSideSortRequest  = "1.2.840.113556.1.4.473"
	ControlTypeServerSideSortResponse = "1.2.840.113556.1.4.474"
)

const (
	sortRequestControlName  = "Server-Side Sort Request Control"
	sortResponseControlName = "Server-Side Sort Response Control"

	sortKeyMatchingRuleTag ber.Tag = 0
	sortKeyReverseOrderTag ber.Tag = 1
)

// SortKey describes one key in a server-side sort request: the attribute to
// sort on, an optional matching rule overriding the attribute's default
// ordering rule, and the sort direction.
type SortKey struct {
	AttributeName  string
	MatchingRuleID string
	Reverse        bool
}

// ServerSideSortRequestControl implements the request control described in
// https://www.ietf.org/rfc/rfc2891.txt.  The key list must be non-empty.
type ServerSideSortRequestControl struct {
	criticality bool
	sortKeys    []SortKey
	value       []byte
}

// NewServerSideSortRequestControl creates a sort request for the given keys.
// At least one key with a non-empty attribute name is required.  Supported
// options: WithCriticality.
func NewServerSideSortRequestControl(sortKeys []SortKey, opt ...Option) (*ServerSideSortRequestControl, error) {
	const op = "cldap.NewServerSideSortRequestControl"
	if len(sortKeys) == 0 {
		return nil, fmt.Errorf("%s: empty sort key list: %w", op, ErrInvalidParameter)
	}
	for _, k := range sortKeys {
		if k.AttributeName == "" {
			return nil, fmt.Errorf("%s: sort key with missing attribute name: %w", op, ErrInvalidParameter)
		}
	}
	opts := getControlOpts(opt...)
	c := &ServerSideSortRequestControl{
		sortKeys: slices.Clone(sortKeys),
	}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	c.value = c.encodeValue()
	return c, nil
}

func (c *ServerSideSortRequestControl) encodeValue() []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Sort Key List")
	for _, key := range c.sortKeys {
		keySeq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Sort Key")
		keySeq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, key.AttributeName, "Attribute Name"))
		if key.MatchingRuleID != "" {
			keySeq.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, sortKeyMatchingRuleTag, key.MatchingRuleID, "Matching Rule ID"))
		}
		if key.Reverse {
			keySeq.AppendChild(ber.NewBoolean(ber.ClassContext, ber.TypePrimitive, sortKeyReverseOrderTag, true, "Reverse Order"))
		}
		seq.AppendChild(keySeq)
	}
	return seq.Bytes()
}

func decodeServerSideSortRequestControl(oid string, criticality bool, value []byte) (Control, error) {
	const op = "cldap.decodeServerSideSortRequestControl"
	if value == nil {
		return nil, fmt.Errorf("%s: missing required value: %w", op, ErrDecoding)
	}
	children, err := decodeValueSequence(value, op)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("%s: empty sort key list: %w", op, ErrDecoding)
	}
	sortKeys := make([]SortKey, 0, len(children))
	for _, keyPacket := range children {
		if keyPacket.ClassType != ber.ClassUniversal || keyPacket.TagType != ber.TypeConstructed || keyPacket.Tag != ber.TagSequence {
			return nil, fmt.Errorf("%s: malformed structure: sort key is not a sequence: %w", op, ErrDecoding)
		}
		attr, err := requireStringChild(keyPacket.Children, 0, "attribute name", op)
		if err != nil {
			return nil, err
		}
		key := SortKey{AttributeName: string(attr)}
		// Optional elements are context-tagged and may appear in any
		// combination; unrecognized trailing tags are ignored.
		for _, extra := range keyPacket.Children[1:] {
			if extra.ClassType != ber.ClassContext {
				return nil, fmt.Errorf("%s: malformed structure: unexpected sort key element: %w", op, ErrDecoding)
			}
			switch extra.Tag {
			case sortKeyMatchingRuleTag:
				key.MatchingRuleID = string(extra.Data.Bytes())
			case sortKeyReverseOrderTag:
				data := extra.Data.Bytes()
				if len(data) != 1 {
					return nil, fmt.Errorf("%s: malformed structure: invalid reverse order flag: %w", op, ErrDecoding)
				}
				key.Reverse = data[0] != 0x00
			}
		}
		sortKeys = append(sortKeys, key)
	}
	c := &ServerSideSortRequestControl{
		criticality: criticality,
		sortKeys:    sortKeys,
		value:       slices.Clone(value),
	}
	return c, nil
}

// GetControlType returns the OID
func (c *ServerSideSortRequestControl) GetControlType() string { return ControlTypeServerSideSortRequest }

// GetCriticality returns the criticality flag
func (c *ServerSideSortRequestControl) GetCriticality() bool { return c.criticality }

// GetValue returns the encoded control value
func (c *ServerSideSortRequestControl) GetValue() []byte { return slices.Clone(c.value) }

// GetControlName returns a human-readable name for the control
func (c *ServerSideSortRequestControl) GetControlName() string { return sortRequestControlName }

// SortKeys returns the requested sort keys in order
func (c *ServerSideSortRequestControl) SortKeys() []SortKey { return slices.Clone(c.sortKeys) }

// Encode returns the ber packet representation
func (c *ServerSideSortRequestControl) Encode() *ber.Packet {
	return encodeControlEnvelope(ControlTypeServerSideSortRequest, c.criticality, c.value, sortRequestControlName)
}

// String returns a human-readable description
func (c *ServerSideSortRequestControl) String() string {
	keys := make([]string, 0, len(c.sortKeys))
	for _, k := range c.sortKeys {
		keys = append(keys, fmt.Sprintf("%+v", k))
	}
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  SortKeys: [%s]",
		sortRequestControlName, ControlTypeServerSideSortRequest, c.criticality, strings.Join(keys, ", "))
}

type sortKeyValue struct {
	AttributeName  *string `json:"attribute-name"`
	MatchingRuleID string  `json:"matching-rule-id,omitempty"`
	ReverseOrder   bool    `json:"reverse-order,omitempty"`
}

type sortRequestControlValue struct {
	SortKeys []sortKeyValue `json:"sort-keys"`
}

// MarshalJSONControl returns the JSON object form of the control
func (c *ServerSideSortRequestControl) MarshalJSONControl() (*JSONControlObject, error) {
	const op = "cldap.(ServerSideSortRequestControl).MarshalJSONControl"
	keys := make([]sortKeyValue, 0, len(c.sortKeys))
	for _, k := range c.sortKeys {
		name := k.AttributeName
		keys = append(keys, sortKeyValue{
			AttributeName:  &name,
			MatchingRuleID: k.MatchingRuleID,
			ReverseOrder:   k.Reverse,
		})
	}
	value, err := marshalControlValue(&sortRequestControlValue{SortKeys: keys}, op)
	if err != nil {
		return nil, err
	}
	return &JSONControlObject{
		OID:         ControlTypeServerSideSortRequest,
		ControlName: sortRequestControlName,
		Criticality: c.criticality,
		ValueJSON:   value,
	}, nil
}

func decodeServerSideSortRequestControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	const op = "cldap.decodeServerSideSortRequestControlJSON"
	var value sortRequestControlValue
	if err := unmarshalControlValue(obj.ValueJSON, strict, &value, op); err != nil {
		return nil, err
	}
	if value.SortKeys == nil {
		return nil, fmt.Errorf("%s: missing required field: sort-keys: %w", op, ErrDecoding)
	}
	if len(value.SortKeys) == 0 {
		return nil, fmt.Errorf("%s: empty sort-keys array: %w", op, ErrDecoding)
	}
	keys := make([]SortKey, 0, len(value.SortKeys))
	for _, k := range value.SortKeys {
		if k.AttributeName == nil || *k.AttributeName == "" {
			return nil, fmt.Errorf("%s: missing required field: attribute-name: %w", op, ErrDecoding)
		}
		keys = append(keys, SortKey{
			AttributeName:  *k.AttributeName,
			MatchingRuleID: k.MatchingRuleID,
			Reverse:        k.ReverseOrder,
		})
	}
	c, err := NewServerSideSortRequestControl(keys, WithCriticality(obj.Criticality))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// ServerSideSortResponseControl implements the response control described in
// https://www.ietf.org/rfc/rfc2891.txt: a sort result code and, when the
// sort failed, optionally the first attribute that caused the failure.
type ServerSideSortResponseControl struct {
	criticality   bool
	resultCode    int
	attributeName string
	value         []byte
}

const sortResponseAttributeTypeTag ber.Tag = 0

// NewServerSideSortResponseControl creates a sort response control.  The
// attributeName may be empty.  Supported options: WithCriticality.
func NewServerSideSortResponseControl(resultCode int, attributeName string, opt ...Option) *ServerSideSortResponseControl {
	opts := getControlOpts(opt...)
	c := &ServerSideSortResponseControl{
		resultCode:    resultCode,
		attributeName: attributeName,
	}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	c.value = c.encodeValue()
	return c
}

func (c *ServerSideSortResponseControl) encodeValue() []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Sort Result")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(c.resultCode), "Sort Result Code"))
	if c.attributeName != "" {
		seq.AppendChild(ber.NewString(ber.ClassContext, ber.TypePrimitive, sortResponseAttributeTypeTag, c.attributeName, "Attribute Type"))
	}
	return seq.Bytes()
}

func decodeServerSideSortResponseControl(oid string, criticality bool, value []byte) (Control, error) {
	const op = "cldap.decodeServerSideSortResponseControl"
	if value == nil {
		return nil, fmt.Errorf("%s: missing required value: %w", op, ErrDecoding)
	}
	children, err := decodeValueSequence(value, op)
	if err != nil {
		return nil, err
	}
	resultCode, err := requireIntChild(children, 0, "sort result code", op)
	if err != nil {
		return nil, err
	}
	c := &ServerSideSortResponseControl{
		criticality: criticality,
		resultCode:  int(resultCode),
		value:       slices.Clone(value),
	}
	// The attribute type is an optional context-tagged trailing element;
	// unrecognized trailing tags are ignored.
	for _, extra := range children[1:] {
		if extra.ClassType == ber.ClassContext && extra.Tag == sortResponseAttributeTypeTag {
			c.attributeName = string(extra.Data.Bytes())
		}
	}
	return c, nil
}

// GetControlType returns the OID
func (c *ServerSideSortResponseControl) GetControlType() string {
	return ControlTypeServerSideSortResponse
}

// GetCriticality returns the criticality flag
func (c *ServerSideSortResponseControl) GetCriticality() bool { return c.criticality }

// GetValue returns the encoded control value
func (c *ServerSideSortResponseControl) GetValue() []byte { return slices.Clone(c.value) }

// GetControlName returns a human-readable name for the control
func (c *ServerSideSortResponseControl) GetControlName() string { return sortResponseControlName }

// ResultCode returns the sort result code
func (c *ServerSideSortResponseControl) ResultCode() int { return c.resultCode }

// AttributeName returns the attribute that caused a sort failure, or ""
func (c *ServerSideSortResponseControl) AttributeName() string { return c.attributeName }

// Encode returns the ber packet representation
func (c *ServerSideSortResponseControl) Encode() *ber.Packet {
	return encodeControlEnvelope(ControlTypeServerSideSortResponse, c.criticality, c.value, sortResponseControlName)
}

// String returns a human-readable description
func (c *ServerSideSortResponseControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  ResultCode: %d  AttributeName: %q",
		sortResponseControlName, ControlTypeServerSideSortResponse, c.criticality, c.resultCode, c.attributeName)
}

type sortResponseControlValue struct {
	ResultCode    *int   `json:"result-code"`
	AttributeName string `json:"attribute-name,omitempty"`
}

// MarshalJSONControl returns the JSON object form of the control
func (c *ServerSideSortResponseControl) MarshalJSONControl() (*JSONControlObject, error) {
	const op = "cldap.(ServerSideSortResponseControl).MarshalJSONControl"
	resultCode := c.resultCode
	value, err := marshalControlValue(&sortResponseControlValue{
		ResultCode:    &resultCode,
		AttributeName: c.attributeName,
	}, op)
	if err != nil {
		return nil, err
	}
	return &JSONControlObject{
		OID:         ControlTypeServerSideSortResponse,
		ControlName: sortResponseControlName,
		Criticality: c.criticality,
		ValueJSON:   value,
	}, nil
}

func decodeServerSideSortResponseControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	const op = "cldap.decodeServerSideSortResponseControlJSON"
	var value sortResponseControlValue
	if err := unmarshalControlValue(obj.ValueJSON, strict, &value, op); err != nil {
		return nil, err
	}
	if value.ResultCode == nil {
		return nil, fmt.Errorf("%s: missing required field: result-code: %w", op, ErrDecoding)
	}
	return NewServerSideSortResponseControl(*value.ResultCode, value.AttributeName, WithCriticality(obj.Criticality)), nil
}
