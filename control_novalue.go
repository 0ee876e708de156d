package cldap

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// Request controls that carry no value.
const (
	// ControlTypeSubtreeDelete - https://datatracker.ietf.org/doc/html/draft-armijo-ldap-treedelete-02
	ControlTypeSubtreeDelete = "1.2.840.113556.1.4.805"

	// ControlTypeRealAttributesOnly - requests that search result entries
	// only include real (non-virtual) attributes.
	ControlTypeRealAttributesOnly = "2.16.840.1.113730.3.4.17"

	// ControlTypeNameWithEntryUUID - requests that the server name a newly
	// added entry with its entryUUID rather than the client-supplied RDN.
	ControlTypeNameWithEntryUUID = "1.3.6.1.4.1.30221.2.5.44"

	// ControlTypeSubentries - https://datatracker.ietf.org/doc/html/draft-ietf-ldup-subentry-07
	ControlTypeSubentries = "1.3.6.1.4.1.7628.5.101.1"
)

const (
	subtreeDeleteControlName      = "Subtree Delete Request Control"
	realAttributesOnlyControlName = "Real Attributes Only Request Control"
	nameWithEntryUUIDControlName  = "Name With entryUUID Request Control"
	subentriesControlName         = "Subentries Request Control"
)

// noValueControl is the common behavior of every request control whose
// entire meaning is its presence: no value is ever encoded, and decoding
// fails when a value is present.
type noValueControl struct {
	oid         string
	name        string
	criticality bool
}

// GetControlType returns the OID
func (c *noValueControl) GetControlType() string { return c.oid }

// GetCriticality returns the criticality flag
func (c *noValueControl) GetCriticality() bool { return c.criticality }

// GetValue always returns nil
func (c *noValueControl) GetValue() []byte { return nil }

// GetControlName returns a human-readable name for the control
func (c *noValueControl) GetControlName() string { return c.name }

// Encode returns the ber packet representation
func (c *noValueControl) Encode() *ber.Packet {
	return encodeControlEnvelope(c.oid, c.criticality, nil, c.name)
}

// String returns a human-readable description
func (c *noValueControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t", c.name, c.oid, c.criticality)
}

// MarshalJSONControl returns the JSON object form of the control; neither
// value field is emitted.
func (c *noValueControl) MarshalJSONControl() (*JSONControlObject, error) {
	return &JSONControlObject{
		OID:         c.oid,
		ControlName: c.name,
		Criticality: c.criticality,
	}, nil
}

func newNoValueControl(oid, name string, opt ...Option) noValueControl {
	opts := getControlOpts(opt...)
	c := noValueControl{oid: oid, name: name}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	return c
}

func decodeNoValue(oid, name string, criticality bool, value []byte) (noValueControl, error) {
	const op = "cldap.decodeNoValue"
	if value != nil {
		return noValueControl{}, fmt.Errorf("%s: %s does not take a value: %w", op, name, ErrDecoding)
	}
	return noValueControl{oid: oid, name: name, criticality: criticality}, nil
}

func rejectValueJSON(name string) JSONValueDecoder {
	return func(obj *JSONControlObject, strict bool) (Control, error) {
		const op = "cldap.rejectValueJSON"
		return nil, fmt.Errorf("%s: %s does not take a value: %w", op, name, ErrDecoding)
	}
}

// SubtreeDeleteControl requests that a delete operation remove the target
// entry and all of its subordinates.
type SubtreeDeleteControl struct{ noValueControl }

// NewSubtreeDeleteControl creates a subtree delete request control.
// Supported options: WithCriticality.
func NewSubtreeDeleteControl(opt ...Option) *SubtreeDeleteControl {
	return &SubtreeDeleteControl{newNoValueControl(ControlTypeSubtreeDelete, subtreeDeleteControlName, opt...)}
}

func decodeSubtreeDeleteControl(oid string, criticality bool, value []byte) (Control, error) {
	base, err := decodeNoValue(ControlTypeSubtreeDelete, subtreeDeleteControlName, criticality, value)
	if err != nil {
		return nil, err
	}
	return &SubtreeDeleteControl{base}, nil
}

var decodeSubtreeDeleteControlJSON = rejectValueJSON(subtreeDeleteControlName)

// RealAttributesOnlyControl requests that search result entries include
// only real (non-virtual) attributes.
type RealAttributesOnlyControl struct{ noValueControl }

// NewRealAttributesOnlyControl creates a real attributes only request
// control.  Supported options: WithCriticality.
func NewRealAttributesOnlyControl(opt ...Option) *RealAttributesOnlyControl {
	return &RealAttributesOnlyControl{newNoValueControl(ControlTypeRealAttributesOnly, realAttributesOnlyControlName, opt...)}
}

func decodeRealAttributesOnlyControl(oid string, criticality bool, value []byte) (Control, error) {
	base, err := decodeNoValue(ControlTypeRealAttributesOnly, realAttributesOnlyControlName, criticality, value)
	if err != nil {
		return nil, err
	}
	return &RealAttributesOnlyControl{base}, nil
}

var decodeRealAttributesOnlyControlJSON = rejectValueJSON(realAttributesOnlyControlName)

// NameWithEntryUUIDControl requests that the server name a newly added
// entry with its entryUUID.
type NameWithEntryUUIDControl struct{ noValueControl }

// NewNameWithEntryUUIDControl creates a name with entryUUID request
// control.  Supported options: WithCriticality.
func NewNameWithEntryUUIDControl(opt ...Option) *NameWithEntryUUIDControl {
	return &NameWithEntryUUIDControl{newNoValueControl(ControlTypeNameWithEntryUUID, nameWithEntryUUIDControlName, opt...)}
}

func decodeNameWithEntryUUIDControl(oid string, criticality bool, value []byte) (Control, error) {
	base, err := decodeNoValue(ControlTypeNameWithEntryUUID, nameWithEntryUUIDControlName, criticality, value)
	if err != nil {
		return nil, err
	}
	return &NameWithEntryUUIDControl{base}, nil
}

var decodeNameWithEntryUUIDControlJSON = rejectValueJSON(nameWithEntryUUIDControlName)

// SubentriesControl requests that a search return subentries instead of
// regular entries.
type SubentriesControl struct{ noValueControl }

// NewSubentriesControl creates a subentries request control.  Supported
// options: WithCriticality.
func NewSubentriesControl(opt ...Option) *SubentriesControl {
	return &SubentriesControl{newNoValueControl(ControlTypeSubentries, subentriesControlName, opt...)}
}

func decodeSubentriesControl(oid string, criticality bool, value []byte) (Control, error) {
	base, err := decodeNoValue(ControlTypeSubentries, subentriesControlName, criticality, value)
	if err != nil {
		return nil, err
	}
	return &SubentriesControl{base}, nil
}

var decodeSubentriesControlJSON = rejectValueJSON(subentriesControlName)
