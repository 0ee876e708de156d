package cldap

import (
	"fmt"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
	"golang.org/x/exp/slices"
)

// ControlTypeGetEffectiveRights - the get effective rights request control
// supported by the Sun/Oracle DSEE and Ping Identity directory servers.
const ControlTypeGetEffectiveRights = "1.3.6.1.4.1.42.2.27.9.5.2"

const getEffectiveRightsControlName = "Get Effective Rights Request Control"

// GetEffectiveRightsControl requests that search result entries include
// information about the rights a given user has for each entry, and
// optionally for a set of named attributes.  The authorization ID is
// typically of the form "dn:uid=someone,ou=people,dc=example,dc=com".
type GetEffectiveRightsControl struct {
	criticality bool
	authzID     string
	attributes  []string
	value       []byte
}

// NewGetEffectiveRightsControl creates a get effective rights request for
// the given authorization ID.  Supported options: WithCriticality,
// WithAttributes.
func NewGetEffectiveRightsControl(authzID string, opt ...Option) (*GetEffectiveRightsControl, error) {
	const op = "cldap.NewGetEffectiveRightsControl"
	if authzID == "" {
		return nil, fmt.Errorf("%s: missing authorization id: %w", op, ErrInvalidParameter)
	}
	opts := getControlOpts(opt...)
	c := &GetEffectiveRightsControl{
		authzID:    authzID,
		attributes: slices.Clone(opts.withAttributes),
	}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	c.value = c.encodeValue()
	return c, nil
}

func (c *GetEffectiveRightsControl) encodeValue() []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Get Effective Rights Value")
	seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.authzID, "Authorization ID"))
	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")
	for _, a := range c.attributes {
		attrs.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, a, "Attribute"))
	}
	seq.AppendChild(attrs)
	return seq.Bytes()
}

func decodeGetEffectiveRightsControl(oid string, criticality bool, value []byte) (Control, error) {
	const op = "cldap.decodeGetEffectiveRightsControl"
	if value == nil {
		return nil, fmt.Errorf("%s: missing required value: %w", op, ErrDecoding)
	}
	children, err := decodeValueSequence(value, op)
	if err != nil {
		return nil, err
	}
	authzID, err := requireStringChild(children, 0, "authorization ID", op)
	if err != nil {
		return nil, err
	}
	c := &GetEffectiveRightsControl{
		criticality: criticality,
		authzID:     string(authzID),
		value:       slices.Clone(value),
	}
	if len(children) > 1 {
		attrsPacket := children[1]
		if attrsPacket.ClassType != ber.ClassUniversal || attrsPacket.TagType != ber.TypeConstructed || attrsPacket.Tag != ber.TagSequence {
			return nil, fmt.Errorf("%s: malformed structure: attributes element is not a sequence: %w", op, ErrDecoding)
		}
		for i := range attrsPacket.Children {
			attr, err := requireStringChild(attrsPacket.Children, i, "attribute", op)
			if err != nil {
				return nil, err
			}
			c.attributes = append(c.attributes, string(attr))
		}
	}
	return c, nil
}

// GetControlType returns the OID
func (c *GetEffectiveRightsControl) GetControlType() string { return ControlTypeGetEffectiveRights }

// GetCriticality returns the criticality flag
func (c *GetEffectiveRightsControl) GetCriticality() bool { return c.criticality }

// GetValue returns the encoded control value
func (c *GetEffectiveRightsControl) GetValue() []byte { return slices.Clone(c.value) }

// GetControlName returns a human-readable name for the control
func (c *GetEffectiveRightsControl) GetControlName() string { return getEffectiveRightsControlName }

// AuthorizationID returns the authorization ID whose rights are requested
func (c *GetEffectiveRightsControl) AuthorizationID() string { return c.authzID }

// Attributes returns the attributes rights are requested for, or nil
func (c *GetEffectiveRightsControl) Attributes() []string { return slices.Clone(c.attributes) }

// Encode returns the ber packet representation
func (c *GetEffectiveRightsControl) Encode() *ber.Packet {
	return encodeControlEnvelope(ControlTypeGetEffectiveRights, c.criticality, c.value, getEffectiveRightsControlName)
}

// String returns a human-readable description
func (c *GetEffectiveRightsControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  AuthorizationID: %q  Attributes: [%s]",
		getEffectiveRightsControlName, ControlTypeGetEffectiveRights, c.criticality, c.authzID, strings.Join(c.attributes, ", "))
}

type getEffectiveRightsControlValue struct {
	AuthorizationID *string  `json:"authorization-id"`
	Attributes      []string `json:"attributes,omitempty"`
}

// MarshalJSONControl returns the JSON object form of the control
func (c *GetEffectiveRightsControl) MarshalJSONControl() (*JSONControlObject, error) {
	const op = "cldap.(GetEffectiveRightsControl).MarshalJSONControl"
	authzID := c.authzID
	value, err := marshalControlValue(&getEffectiveRightsControlValue{
		AuthorizationID: &authzID,
		Attributes:      c.attributes,
	}, op)
	if err != nil {
		return nil, err
	}
	return &JSONControlObject{
		OID:         ControlTypeGetEffectiveRights,
		ControlName: getEffectiveRightsControlName,
		Criticality: c.criticality,
		ValueJSON:   value,
	}, nil
}

func decodeGetEffectiveRightsControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	const op = "cldap.decodeGetEffectiveRightsControlJSON"
	var value getEffectiveRightsControlValue
	if err := unmarshalControlValue(obj.ValueJSON, strict, &value, op); err != nil {
		return nil, err
	}
	if value.AuthorizationID == nil || *value.AuthorizationID == "" {
		return nil, fmt.Errorf("%s: missing required field: authorization-id: %w", op, ErrDecoding)
	}
	opts := []Option{WithCriticality(obj.Criticality)}
	if value.Attributes != nil {
		opts = append(opts, WithAttributes(value.Attributes...))
	}
	c, err := NewGetEffectiveRightsControl(*value.AuthorizationID, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}
