// Copyright (c) the cldap Authors
// SPDX-License-Identifier: MIT

package cldap

import (
	"encoding/base64"
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"golang.org/x/exp/slices"
)

// Virtual list view controls - https://tools.ietf.org/html/draft-ietf-ldapext-ldapv3-vlv-09
const (
	ControlTypeVLVRequest  = "2.16.840.1.113730.3.4.9"
	ControlTypeVLVResponse = "2.16.840.1.113730.3.4.10"
)

const (
	vlvRequestControlName  = "Virtual List View Request Control"
	vlvResponseControlName = "Virtual List View Response Control"

	// The target element of a VLV request is a tagged union: a constructed
	// context [0] sequence of {offset, contentCount}, or a primitive context
	// [1] greater-or-equal assertion value.
	vlvTargetOffsetTag         ber.Tag = 0
	vlvTargetGreaterOrEqualTag ber.Tag = 1
)

// VLVRequestControl implements the virtual list view request control.  The
// target of the request is either an offset into the sorted result set or a
// greater-or-equal assertion value against the primary sort attribute;
// exactly one of the two is populated, and the split constructors make an
// invalid combination unrepresentable.  VLV requests default to critical,
// since a server that ignores the control would return the entire result
// set.
type VLVRequestControl struct {
	criticality bool
	beforeCount int32
	afterCount  int32

	// offset target; only meaningful when byOffset is true
	byOffset     bool
	targetOffset int32
	contentCount int32

	// assertion target
	assertionValue []byte

	contextID []byte
	value     []byte
}

// NewVLVOffsetRequestControl creates a VLV request targeting the entry at
// the given offset.  contentCount should be zero on the first request in a
// VLV sequence and the content count from the previous response afterwards.
// Supported options: WithCriticality, WithContextID.
func NewVLVOffsetRequestControl(targetOffset, beforeCount, afterCount, contentCount int32, opt ...Option) *VLVRequestControl {
	opts := getControlOpts(opt...)
	c := &VLVRequestControl{
		criticality:  true,
		beforeCount:  beforeCount,
		afterCount:   afterCount,
		byOffset:     true,
		targetOffset: targetOffset,
		contentCount: contentCount,
		contextID:    slices.Clone(opts.withContextID),
	}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	c.value = c.encodeValue()
	return c
}

// NewVLVAssertionRequestControl creates a VLV request targeting the first
// entry whose primary sort attribute value is greater than or equal to the
// assertion value.  Supported options: WithCriticality, WithContextID.
func NewVLVAssertionRequestControl(assertionValue []byte, beforeCount, afterCount int32, opt ...Option) *VLVRequestControl {
	opts := getControlOpts(opt...)
	c := &VLVRequestControl{
		criticality:    true,
		beforeCount:    beforeCount,
		afterCount:     afterCount,
		assertionValue: slices.Clone(assertionValue),
		contextID:      slices.Clone(opts.withContextID),
	}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	c.value = c.encodeValue()
	return c
}

func (c *VLVRequestControl) encodeValue() []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "VLV Request Value")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(c.beforeCount), "Before Count"))
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(c.afterCount), "After Count"))
	if c.byOffset {
		target := ber.Encode(ber.ClassContext, ber.TypeConstructed, vlvTargetOffsetTag, nil, "By Offset")
		target.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(c.targetOffset), "Offset"))
		target.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(c.contentCount), "Content Count"))
		seq.AppendChild(target)
	} else {
		target := ber.Encode(ber.ClassContext, ber.TypePrimitive, vlvTargetGreaterOrEqualTag, nil, "Greater Or Equal")
		target.Value = c.assertionValue
		target.Data.Write(c.assertionValue)
		seq.AppendChild(target)
	}
	if c.contextID != nil {
		ctx := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Context ID")
		ctx.Value = c.contextID
		ctx.Data.Write(c.contextID)
		seq.AppendChild(ctx)
	}
	return seq.Bytes()
}

func decodeVLVRequestControl(oid string, criticality bool, value []byte) (Control, error) {
	const op = "cldap.decodeVLVRequestControl"
	if value == nil {
		return nil, fmt.Errorf("%s: missing required value: %w", op, ErrDecoding)
	}
	children, err := decodeValueSequence(value, op)
	if err != nil {
		return nil, err
	}
	beforeCount, err := requireIntChild(children, 0, "before count", op)
	if err != nil {
		return nil, err
	}
	afterCount, err := requireIntChild(children, 1, "after count", op)
	if err != nil {
		return nil, err
	}
	if len(children) < 3 {
		return nil, fmt.Errorf("%s: missing required field: target: %w", op, ErrDecoding)
	}

	c := &VLVRequestControl{
		criticality: criticality,
		beforeCount: int32(beforeCount),
		afterCount:  int32(afterCount),
		value:       slices.Clone(value),
	}

	// The type-tag of the third element selects the target variant.
	target := children[2]
	switch {
	case target.ClassType == ber.ClassContext && target.TagType == ber.TypeConstructed && target.Tag == vlvTargetOffsetTag:
		offset, err := requireIntChild(target.Children, 0, "target offset", op)
		if err != nil {
			return nil, err
		}
		contentCount, err := requireIntChild(target.Children, 1, "content count", op)
		if err != nil {
			return nil, err
		}
		c.byOffset = true
		c.targetOffset = int32(offset)
		c.contentCount = int32(contentCount)
	case target.ClassType == ber.ClassContext && target.TagType == ber.TypePrimitive && target.Tag == vlvTargetGreaterOrEqualTag:
		c.assertionValue = slices.Clone(target.Data.Bytes())
	default:
		return nil, fmt.Errorf("%s: unsupported type tag for target element (class %d, tag %d): %w",
			op, target.ClassType, target.Tag, ErrDecoding)
	}

	if len(children) > 3 {
		ctxID, err := requireStringChild(children, 3, "context ID", op)
		if err != nil {
			return nil, err
		}
		c.contextID = slices.Clone(ctxID)
	}
	return c, nil
}

// GetControlType returns the OID
func (c *VLVRequestControl) GetControlType() string { return ControlTypeVLVRequest }

// GetCriticality returns the criticality flag
func (c *VLVRequestControl) GetCriticality() bool { return c.criticality }

// GetValue returns the encoded control value
func (c *VLVRequestControl) GetValue() []byte { return slices.Clone(c.value) }

// GetControlName returns a human-readable name for the control
func (c *VLVRequestControl) GetControlName() string { return vlvRequestControlName }

// BeforeCount returns the max number of entries to return before the target
func (c *VLVRequestControl) BeforeCount() int32 { return c.beforeCount }

// AfterCount returns the max number of entries to return after the target
func (c *VLVRequestControl) AfterCount() int32 { return c.afterCount }

// TargetsByOffset reports whether the target is specified by offset rather
// than by assertion value
func (c *VLVRequestControl) TargetsByOffset() bool { return c.byOffset }

// TargetOffset returns the target offset; only meaningful when
// TargetsByOffset is true
func (c *VLVRequestControl) TargetOffset() int32 { return c.targetOffset }

// ContentCount returns the client's estimate of the result set size; only
// meaningful when TargetsByOffset is true
func (c *VLVRequestControl) ContentCount() int32 { return c.contentCount }

// AssertionValue returns the greater-or-equal assertion value, or nil when
// the target is specified by offset
func (c *VLVRequestControl) AssertionValue() []byte { return slices.Clone(c.assertionValue) }

// ContextID returns the opaque context ID, or nil
func (c *VLVRequestControl) ContextID() []byte { return slices.Clone(c.contextID) }

// Encode returns the ber packet representation
func (c *VLVRequestControl) Encode() *ber.Packet {
	return encodeControlEnvelope(ControlTypeVLVRequest, c.criticality, c.value, vlvRequestControlName)
}

// String returns a human-readable description
func (c *VLVRequestControl) String() string {
	if c.byOffset {
		return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  TargetOffset: %d  BeforeCount: %d  AfterCount: %d  ContentCount: %d",
			vlvRequestControlName, ControlTypeVLVRequest, c.criticality, c.targetOffset, c.beforeCount, c.afterCount, c.contentCount)
	}
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  AssertionValue: %q  BeforeCount: %d  AfterCount: %d",
		vlvRequestControlName, ControlTypeVLVRequest, c.criticality, c.assertionValue, c.beforeCount, c.afterCount)
}

type vlvRequestControlValue struct {
	TargetOffset   *int32  `json:"target-offset,omitempty"`
	AssertionValue *string `json:"assertion-value,omitempty"`
	BeforeCount    *int32  `json:"before-count"`
	AfterCount     *int32  `json:"after-count"`
	ContentCount   *int32  `json:"content-count,omitempty"`
	ContextID      *string `json:"context-id,omitempty"`
}

// MarshalJSONControl returns the JSON object form of the control
func (c *VLVRequestControl) MarshalJSONControl() (*JSONControlObject, error) {
	const op = "cldap.(VLVRequestControl).MarshalJSONControl"
	beforeCount, afterCount := c.beforeCount, c.afterCount
	v := vlvRequestControlValue{
		BeforeCount: &beforeCount,
		AfterCount:  &afterCount,
	}
	if c.byOffset {
		targetOffset, contentCount := c.targetOffset, c.contentCount
		v.TargetOffset = &targetOffset
		v.ContentCount = &contentCount
	} else {
		// the assertion value is an opaque octet string, so it travels as
		// base64 like every other binary field
		assertion := base64.StdEncoding.EncodeToString(c.assertionValue)
		v.AssertionValue = &assertion
	}
	if c.contextID != nil {
		ctxID := base64.StdEncoding.EncodeToString(c.contextID)
		v.ContextID = &ctxID
	}
	value, err := marshalControlValue(&v, op)
	if err != nil {
		return nil, err
	}
	return &JSONControlObject{
		OID:         ControlTypeVLVRequest,
		ControlName: vlvRequestControlName,
		Criticality: c.criticality,
		ValueJSON:   value,
	}, nil
}

func decodeVLVRequestControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	const op = "cldap.decodeVLVRequestControlJSON"
	var value vlvRequestControlValue
	if err := unmarshalControlValue(obj.ValueJSON, strict, &value, op); err != nil {
		return nil, err
	}
	switch {
	case value.TargetOffset != nil && value.AssertionValue != nil:
		return nil, fmt.Errorf("%s: ambiguous variant: both target-offset and assertion-value are present: %w", op, ErrDecoding)
	case value.TargetOffset == nil && value.AssertionValue == nil:
		return nil, fmt.Errorf("%s: ambiguous variant: neither target-offset nor assertion-value is present: %w", op, ErrDecoding)
	case value.BeforeCount == nil:
		return nil, fmt.Errorf("%s: missing required field: before-count: %w", op, ErrDecoding)
	case value.AfterCount == nil:
		return nil, fmt.Errorf("%s: missing required field: after-count: %w", op, ErrDecoding)
	}

	opts := []Option{WithCriticality(obj.Criticality)}
	if value.ContextID != nil {
		ctxID, err := base64.StdEncoding.DecodeString(*value.ContextID)
		if err != nil {
			return nil, fmt.Errorf("%s: malformed structure: invalid base64 in context-id: %w", op, ErrDecoding)
		}
		opts = append(opts, WithContextID(ctxID))
	}

	if value.TargetOffset != nil {
		contentCount := int32(0)
		if value.ContentCount != nil {
			contentCount = *value.ContentCount
		}
		return NewVLVOffsetRequestControl(*value.TargetOffset, *value.BeforeCount, *value.AfterCount, contentCount, opts...), nil
	}
	if value.ContentCount != nil {
		return nil, fmt.Errorf("%s: ambiguous variant: content-count is not allowed with assertion-value: %w", op, ErrDecoding)
	}
	assertion, err := base64.StdEncoding.DecodeString(*value.AssertionValue)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed structure: invalid base64 in assertion-value: %w", op, ErrDecoding)
	}
	return NewVLVAssertionRequestControl(assertion, *value.BeforeCount, *value.AfterCount, opts...), nil
}

// VLVResponseControl implements the virtual list view response control: the
// offset of the target entry in the sorted result set, the server's estimate
// of the result set size, a result code, and an optional context ID for
// subsequent requests in the same sequence.
type VLVResponseControl struct {
	criticality    bool
	targetPosition int32
	contentCount   int32
	resultCode     int
	contextID      []byte
	value          []byte
}

// NewVLVResponseControl creates a VLV response control.  Supported options:
// WithCriticality, WithContextID.
func NewVLVResponseControl(targetPosition, contentCount int32, resultCode int, opt ...Option) *VLVResponseControl {
	opts := getControlOpts(opt...)
	c := &VLVResponseControl{
		targetPosition: targetPosition,
		contentCount:   contentCount,
		resultCode:     resultCode,
		contextID:      slices.Clone(opts.withContextID),
	}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	c.value = c.encodeValue()
	return c
}

func (c *VLVResponseControl) encodeValue() []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "VLV Response Value")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(c.targetPosition), "Target Position"))
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(c.contentCount), "Content Count"))
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(c.resultCode), "Result Code"))
	if c.contextID != nil {
		ctx := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Context ID")
		ctx.Value = c.contextID
		ctx.Data.Write(c.contextID)
		seq.AppendChild(ctx)
	}
	return seq.Bytes()
}

func decodeVLVResponseControl(oid string, criticality bool, value []byte) (Control, error) {
	const op = "cldap.decodeVLVResponseControl"
	if value == nil {
		return nil, fmt.Errorf("%s: missing required value: %w", op, ErrDecoding)
	}
	children, err := decodeValueSequence(value, op)
	if err != nil {
		return nil, err
	}
	targetPosition, err := requireIntChild(children, 0, "target position", op)
	if err != nil {
		return nil, err
	}
	contentCount, err := requireIntChild(children, 1, "content count", op)
	if err != nil {
		return nil, err
	}
	resultCode, err := requireIntChild(children, 2, "result code", op)
	if err != nil {
		return nil, err
	}
	c := &VLVResponseControl{
		criticality:    criticality,
		targetPosition: int32(targetPosition),
		contentCount:   int32(contentCount),
		resultCode:     int(resultCode),
		value:          slices.Clone(value),
	}
	if len(children) > 3 {
		ctxID, err := requireStringChild(children, 3, "context ID", op)
		if err != nil {
			return nil, err
		}
		c.contextID = slices.Clone(ctxID)
	}
	return c, nil
}

// GetControlType returns the OID
func (c *VLVResponseControl) GetControlType() string { return ControlTypeVLVResponse }

// GetCriticality returns the criticality flag
func (c *VLVResponseControl) GetCriticality() bool { return c.criticality }

// GetValue returns the encoded control value
func (c *VLVResponseControl) GetValue() []byte { return slices.Clone(c.value) }

// GetControlName returns a human-readable name for the control
func (c *VLVResponseControl) GetControlName() string { return vlvResponseControlName }

// TargetPosition returns the offset of the target entry in the result set
func (c *VLVResponseControl) TargetPosition() int32 { return c.targetPosition }

// ContentCount returns the server's estimate of the result set size
func (c *VLVResponseControl) ContentCount() int32 { return c.contentCount }

// ResultCode returns the VLV result code
func (c *VLVResponseControl) ResultCode() int { return c.resultCode }

// ContextID returns the opaque context ID, or nil
func (c *VLVResponseControl) ContextID() []byte { return slices.Clone(c.contextID) }

// Encode returns the ber packet representation
func (c *VLVResponseControl) Encode() *ber.Packet {
	return encodeControlEnvelope(ControlTypeVLVResponse, c.criticality, c.value, vlvResponseControlName)
}

// String returns a human-readable description
func (c *VLVResponseControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  TargetPosition: %d  ContentCount: %d  ResultCode: %d",
		vlvResponseControlName, ControlTypeVLVResponse, c.criticality, c.targetPosition, c.contentCount, c.resultCode)
}

type vlvResponseControlValue struct {
	TargetPosition *int32  `json:"target-position"`
	ContentCount   *int32  `json:"content-count"`
	ResultCode     *int    `json:"result-code"`
	ContextID      *string `json:"context-id,omitempty"`
}

// MarshalJSONControl returns the JSON object form of the control
func (c *VLVResponseControl) MarshalJSONControl() (*JSONControlObject, error) {
	const op = "cldap.(VLVResponseControl).MarshalJSONControl"
	targetPosition, contentCount, resultCode := c.targetPosition, c.contentCount, c.resultCode
	v := vlvResponseControlValue{
		TargetPosition: &targetPosition,
		ContentCount:   &contentCount,
		ResultCode:     &resultCode,
	}
	if c.contextID != nil {
		ctxID := base64.StdEncoding.EncodeToString(c.contextID)
		v.ContextID = &ctxID
	}
	value, err := marshalControlValue(&v, op)
	if err != nil {
		return nil, err
	}
	return &JSONControlObject{
		OID:         ControlTypeVLVResponse,
		ControlName: vlvResponseControlName,
		Criticality: c.criticality,
		ValueJSON:   value,
	}, nil
}

func decodeVLVResponseControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	const op = "cldap.decodeVLVResponseControlJSON"
	var value vlvResponseControlValue
	if err := unmarshalControlValue(obj.ValueJSON, strict, &value, op); err != nil {
		return nil, err
	}
	switch {
	case value.TargetPosition == nil:
		return nil, fmt.Errorf("%s: missing required field: target-position: %w", op, ErrDecoding)
	case value.ContentCount == nil:
		return nil, fmt.Errorf("%s: missing required field: content-count: %w", op, ErrDecoding)
	case value.ResultCode == nil:
		return nil, fmt.Errorf("%s: missing required field: result-code: %w", op, ErrDecoding)
	}
	opts := []Option{WithCriticality(obj.Criticality)}
	if value.ContextID != nil {
		ctxID, err := base64.StdEncoding.DecodeString(*value.ContextID)
		if err != nil {
			return nil, fmt.Errorf("%s: malformed structure: invalid base64 in context-id: %w", op, ErrDecoding)
		}
		opts = append(opts, WithContextID(ctxID))
	}
	return NewVLVResponseControl(*value.TargetPosition, *value.ContentCount, *value.ResultCode, opts...), nil
}
