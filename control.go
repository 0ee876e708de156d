package cldap

import (
	"bytes"
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"golang.org/x/exp/slices"
)

// Control defines a common interface for all ldap controls
type Control interface {
	// GetControlType returns the OID
	GetControlType() string
	// GetCriticality returns the criticality flag
	GetCriticality() bool
	// GetValue returns the encoded value, or nil when the control has no
	// value
	GetValue() []byte
	// Encode returns the ber packet representation
	Encode() *ber.Packet
	// String returns a human-readable description
	String() string
}

// GenericControl is the wire-level form of a control: an OID, a criticality
// flag and an optional opaque value.  It is the universal currency every
// typed control can be downgraded to, and the form in which controls with an
// unregistered OID are surfaced to callers.  A GenericControl is immutable
// after construction.
type GenericControl struct {
	oid         string
	criticality bool
	value       []byte
}

// NewGenericControl creates a control from its wire-level parts.  The oid
// must be non-empty.  Supported options: WithCriticality, WithValue.
func NewGenericControl(oid string, opt ...Option) (*GenericControl, error) {
	const op = "cldap.NewGenericControl"
	if oid == "" {
		return nil, fmt.Errorf("%s: missing oid: %w", op, ErrInvalidParameter)
	}
	opts := getControlOpts(opt...)
	c := &GenericControl{oid: oid}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	if opts.withValue != nil {
		c.value = slices.Clone(opts.withValue)
	}
	return c, nil
}

// GetControlType returns the OID
func (c *GenericControl) GetControlType() string { return c.oid }

// GetCriticality returns the criticality flag
func (c *GenericControl) GetCriticality() bool { return c.criticality }

// GetValue returns a copy of the control value, or nil when the control has
// no value
func (c *GenericControl) GetValue() []byte { return slices.Clone(c.value) }

// HasValue reports whether the control has a value
func (c *GenericControl) HasValue() bool { return c.value != nil }

// Equal reports whether two generic controls have the same OID, criticality
// and value
func (c *GenericControl) Equal(o *GenericControl) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.oid == o.oid &&
		c.criticality == o.criticality &&
		bytes.Equal(c.value, o.value)
}

// Encode returns the ber packet representation
func (c *GenericControl) Encode() *ber.Packet {
	return encodeControlEnvelope(c.oid, c.criticality, c.value, "")
}

// String returns a human-readable description
func (c *GenericControl) String() string {
	if c.value == nil {
		return fmt.Sprintf("Control Type: %q  Criticality: %t", c.oid, c.criticality)
	}
	return fmt.Sprintf("Control Type: %q  Criticality: %t  Control Value: %q", c.oid, c.criticality, c.value)
}

// encodeControlEnvelope builds the control SEQUENCE all controls share:
//
//	Control ::= SEQUENCE {
//	     controlType             LDAPOID,
//	     criticality             BOOLEAN DEFAULT FALSE,
//	     controlValue            OCTET STRING OPTIONAL }
//
// A false criticality is omitted per the BOOLEAN DEFAULT FALSE rule; a nil
// value is omitted entirely.
func encodeControlEnvelope(oid string, criticality bool, value []byte, name string) *ber.Packet {
	packet := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
	desc := "Control Type"
	if name != "" {
		desc = "Control Type (" + name + ")"
	}
	packet.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, oid, desc))
	if criticality {
		packet.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, criticality, "Criticality"))
	}
	if value != nil {
		valuePacket := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Control Value")
		valuePacket.Value = value
		valuePacket.Data.Write(value)
		packet.AppendChild(valuePacket)
	}
	return packet
}

// decodeControlEnvelope parses a single control SEQUENCE into its generic
// form.  The value is consumed as a fully self-contained opaque payload;
// interpreting it is the registry's job.
func decodeControlEnvelope(packet *ber.Packet) (*GenericControl, error) {
	const op = "cldap.decodeControlEnvelope"
	if packet == nil {
		return nil, fmt.Errorf("%s: missing packet: %w", op, ErrInvalidParameter)
	}
	if len(packet.Children) < 1 || len(packet.Children) > 3 {
		return nil, fmt.Errorf("%s: malformed structure: control sequence with %d children: %w", op, len(packet.Children), ErrDecoding)
	}
	oid, ok := packet.Children[0].Value.(string)
	if !ok || oid == "" {
		return nil, fmt.Errorf("%s: malformed structure: missing control type: %w", op, ErrDecoding)
	}

	c := &GenericControl{oid: oid}
	for _, child := range packet.Children[1:] {
		switch {
		case child.ClassType == ber.ClassUniversal && child.Tag == ber.TagBoolean:
			criticality, ok := child.Value.(bool)
			if !ok {
				return nil, fmt.Errorf("%s: malformed structure: invalid criticality: %w", op, ErrDecoding)
			}
			c.criticality = criticality
		case child.ClassType == ber.ClassUniversal && child.Tag == ber.TagOctetString:
			c.value = slices.Clone(child.Data.Bytes())
		default:
			return nil, fmt.Errorf("%s: malformed structure: unexpected element (class %d, tag %d): %w", op, child.ClassType, child.Tag, ErrDecoding)
		}
	}
	return c, nil
}

// EncodeControls encodes a list of controls as the context-constructed
// Controls element embedded in an LDAPMessage.
func EncodeControls(controls ...Control) *ber.Packet {
	packet := ber.Encode(ber.ClassContext, ber.TypeConstructed, 0, nil, "Controls")
	for _, control := range controls {
		packet.AppendChild(control.Encode())
	}
	return packet
}

// DecodeControls decodes every control in a received Controls element,
// upgrading each to its typed form via the default registry (or the one
// provided with WithRegistry).  Controls with an unregistered OID pass
// through as *GenericControl; a malformed control fails the whole list.
func DecodeControls(packet *ber.Packet, opt ...Option) ([]Control, error) {
	const op = "cldap.DecodeControls"
	if packet == nil {
		return nil, fmt.Errorf("%s: missing packet: %w", op, ErrInvalidParameter)
	}
	opts := getRegistryOpts(opt...)
	reg := opts.withRegistry
	if reg == nil {
		reg = DefaultRegistry()
	}
	controls := make([]Control, 0, len(packet.Children))
	for _, child := range packet.Children {
		generic, err := decodeControlEnvelope(child)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		control, err := reg.Decode(generic)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		controls = append(controls, control)
	}
	return controls, nil
}

// decodeValueSequence decodes an opaque control value as a BER sequence and
// returns its elements.  Every structured control value in the catalog is a
// sequence at the top level.
func decodeValueSequence(value []byte, op string) ([]*ber.Packet, error) {
	seq, err := ber.DecodePacketErr(value)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed structure: %s: %w", op, err.Error(), ErrDecoding)
	}
	if seq.ClassType != ber.ClassUniversal || seq.TagType != ber.TypeConstructed || seq.Tag != ber.TagSequence {
		return nil, fmt.Errorf("%s: malformed structure: value is not a sequence: %w", op, ErrDecoding)
	}
	return seq.Children, nil
}

// parseInt64 reads an integer or enumerated element, including
// context-tagged ones whose value the ber package leaves unparsed.
func parseInt64(p *ber.Packet, op string) (int64, error) {
	if v, ok := p.Value.(int64); ok {
		return v, nil
	}
	v, err := ber.ParseInt64(p.Data.Bytes())
	if err != nil {
		return 0, fmt.Errorf("%s: malformed structure: invalid integer: %w", op, ErrDecoding)
	}
	return v, nil
}

// requireIntChild reads the mandatory integer at position idx of a value
// sequence.
func requireIntChild(children []*ber.Packet, idx int, name, op string) (int64, error) {
	if idx >= len(children) {
		return 0, fmt.Errorf("%s: missing required field: %s: %w", op, name, ErrDecoding)
	}
	p := children[idx]
	if p.ClassType != ber.ClassUniversal || p.TagType != ber.TypePrimitive ||
		(p.Tag != ber.TagInteger && p.Tag != ber.TagEnumerated) {
		return 0, fmt.Errorf("%s: malformed structure: %s is not an integer: %w", op, name, ErrDecoding)
	}
	return parseInt64(p, op)
}

// requireStringChild reads the mandatory octet string at position idx of a
// value sequence.
func requireStringChild(children []*ber.Packet, idx int, name, op string) ([]byte, error) {
	if idx >= len(children) {
		return nil, fmt.Errorf("%s: missing required field: %s: %w", op, name, ErrDecoding)
	}
	p := children[idx]
	if p.ClassType != ber.ClassUniversal || p.TagType != ber.TypePrimitive || p.Tag != ber.TagOctetString {
		return nil, fmt.Errorf("%s: malformed structure: %s is not an octet string: %w", op, name, ErrDecoding)
	}
	return p.Data.Bytes(), nil
}
