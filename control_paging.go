package cldap

import (
	"fmt"
	"math"

	ber "github.com/go-asn1-ber/asn1-ber"
	"golang.org/x/exp/slices"
)

// ControlTypePaging - https://www.ietf.org/rfc/rfc2696.txt
const ControlTypePaging = "1.2.840.113556.1.4.319"

const pagingControlName = "Simple Paged Results Control"

// PagingControl implements the simple paged results control described in
// https://www.ietf.org/rfc/rfc2696.txt.  The same OID and value are used for
// the request and the response: the request carries the desired page size
// and the cookie from the previous response (empty on the first request),
// the response carries the server's cookie for fetching the next page (empty
// when there are no more pages).
type PagingControl struct {
	criticality bool
	pageSize    uint32
	cookie      []byte
	value       []byte
}

// NewPagingControl creates a paging control requesting the given page size.
// Supported options: WithCriticality, WithCookie.
func NewPagingControl(pageSize uint32, opt ...Option) *PagingControl {
	opts := getControlOpts(opt...)
	c := &PagingControl{
		pageSize: pageSize,
		cookie:   slices.Clone(opts.withCookie),
	}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	c.value = c.encodeValue()
	return c
}

func (c *PagingControl) encodeValue() []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Paged Results Value")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(c.pageSize), "Page Size"))
	cookie := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Cookie")
	cookie.Value = c.cookie
	cookie.Data.Write(c.cookie)
	seq.AppendChild(cookie)
	return seq.Bytes()
}

func decodePagingControl(oid string, criticality bool, value []byte) (Control, error) {
	const op = "cldap.decodePagingControl"
	if value == nil {
		return nil, fmt.Errorf("%s: missing required value: %w", op, ErrDecoding)
	}
	children, err := decodeValueSequence(value, op)
	if err != nil {
		return nil, err
	}
	size, err := requireIntChild(children, 0, "page size", op)
	if err != nil {
		return nil, err
	}
	if size < 0 || size > math.MaxUint32 {
		return nil, fmt.Errorf("%s: malformed structure: page size %d out of range: %w", op, size, ErrDecoding)
	}
	cookie, err := requireStringChild(children, 1, "cookie", op)
	if err != nil {
		return nil, err
	}
	c := &PagingControl{
		criticality: criticality,
		pageSize:    uint32(size),
		cookie:      slices.Clone(cookie),
		value:       slices.Clone(value),
	}
	return c, nil
}

// GetControlType returns the OID
func (c *PagingControl) GetControlType() string { return ControlTypePaging }

// GetCriticality returns the criticality flag
func (c *PagingControl) GetCriticality() bool { return c.criticality }

// GetValue returns the encoded control value
func (c *PagingControl) GetValue() []byte { return slices.Clone(c.value) }

// GetControlName returns a human-readable name for the control
func (c *PagingControl) GetControlName() string { return pagingControlName }

// PageSize returns the requested (or, in a response, the server-imposed)
// page size
func (c *PagingControl) PageSize() uint32 { return c.pageSize }

// Cookie returns the opaque paging cookie, or nil when none was included
func (c *PagingControl) Cookie() []byte { return slices.Clone(c.cookie) }

// HasMorePages reports whether a response cookie indicates more pages are
// available.  A response with an empty cookie ends the paged sequence.
func (c *PagingControl) HasMorePages() bool { return len(c.cookie) > 0 }

// NextPageControl builds the request control for the next page of a paged
// sequence: the requested page size plus this response's cookie.
func (c *PagingControl) NextPageControl(pageSize uint32) *PagingControl {
	return NewPagingControl(pageSize, WithCookie(c.cookie), WithCriticality(c.criticality))
}

// Encode returns the ber packet representation
func (c *PagingControl) Encode() *ber.Packet {
	return encodeControlEnvelope(ControlTypePaging, c.criticality, c.value, pagingControlName)
}

// String returns a human-readable description
func (c *PagingControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  PageSize: %d  Cookie: %q",
		pagingControlName, ControlTypePaging, c.criticality, c.pageSize, c.cookie)
}

type pagingControlValue struct {
	PageSize *uint32 `json:"page-size"`
	Cookie   []byte  `json:"cookie,omitempty"`
}

// MarshalJSONControl returns the JSON object form of the control
func (c *PagingControl) MarshalJSONControl() (*JSONControlObject, error) {
	const op = "cldap.(PagingControl).MarshalJSONControl"
	pageSize := c.pageSize
	value, err := marshalControlValue(&pagingControlValue{
		PageSize: &pageSize,
		Cookie:   c.cookie,
	}, op)
	if err != nil {
		return nil, err
	}
	return &JSONControlObject{
		OID:         ControlTypePaging,
		ControlName: pagingControlName,
		Criticality: c.criticality,
		ValueJSON:   value,
	}, nil
}

func decodePagingControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	const op = "cldap.decodePagingControlJSON"
	var value pagingControlValue
	if err := unmarshalControlValue(obj.ValueJSON, strict, &value, op); err != nil {
		return nil, err
	}
	if value.PageSize == nil {
		return nil, fmt.Errorf("%s: missing required field: page-size: %w", op, ErrDecoding)
	}
	opts := []Option{WithCriticality(obj.Criticality)}
	if value.Cookie != nil {
		opts = append(opts, WithCookie(value.Cookie))
	}
	return NewPagingControl(*value.PageSize, opts...), nil
}
