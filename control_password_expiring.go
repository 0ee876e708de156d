package cldap

import (
	"fmt"
	"strconv"

	ber "github.com/go-asn1-ber/asn1-ber"
	"golang.org/x/exp/slices"
)

// ControlTypePasswordExpiring - the Netscape password expiring response
// control.  Its value is not BER-encoded: it is the decimal string
// representation of the number of seconds until the password expires.
const ControlTypePasswordExpiring = "2.16.840.1.113730.3.4.5"

const passwordExpiringControlName = "Password Expiring Response Control"

// PasswordExpiringControl warns that the authenticated user's password will
// expire in the near future.
type PasswordExpiringControl struct {
	criticality            bool
	secondsUntilExpiration int32
	value                  []byte
}

// NewPasswordExpiringControl creates a password expiring response control.
// Supported options: WithCriticality.
func NewPasswordExpiringControl(secondsUntilExpiration int32, opt ...Option) *PasswordExpiringControl {
	opts := getControlOpts(opt...)
	c := &PasswordExpiringControl{
		secondsUntilExpiration: secondsUntilExpiration,
	}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	c.value = []byte(strconv.FormatInt(int64(secondsUntilExpiration), 10))
	return c
}

func decodePasswordExpiringControl(oid string, criticality bool, value []byte) (Control, error) {
	const op = "cldap.decodePasswordExpiringControl"
	if value == nil {
		return nil, fmt.Errorf("%s: missing required value: %w", op, ErrDecoding)
	}
	secs, err := strconv.ParseInt(string(value), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed structure: value %q is not a decimal integer: %w", op, value, ErrDecoding)
	}
	return &PasswordExpiringControl{
		criticality:            criticality,
		secondsUntilExpiration: int32(secs),
		value:                  slices.Clone(value),
	}, nil
}

// GetControlType returns the OID
func (c *PasswordExpiringControl) GetControlType() string { return ControlTypePasswordExpiring }

// GetCriticality returns the criticality flag
func (c *PasswordExpiringControl) GetCriticality() bool { return c.criticality }

// GetValue returns the encoded control value
func (c *PasswordExpiringControl) GetValue() []byte { return slices.Clone(c.value) }

// GetControlName returns a human-readable name for the control
func (c *PasswordExpiringControl) GetControlName() string { return passwordExpiringControlName }

// SecondsUntilExpiration returns the number of seconds until the password
// expires
func (c *PasswordExpiringControl) SecondsUntilExpiration() int32 { return c.secondsUntilExpiration }

// Encode returns the ber packet representation
func (c *PasswordExpiringControl) Encode() *ber.Packet {
	return encodeControlEnvelope(ControlTypePasswordExpiring, c.criticality, c.value, passwordExpiringControlName)
}

// String returns a human-readable description
func (c *PasswordExpiringControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  SecondsUntilExpiration: %d",
		passwordExpiringControlName, ControlTypePasswordExpiring, c.criticality, c.secondsUntilExpiration)
}

type passwordExpiringControlValue struct {
	SecondsUntilExpiration *int32 `json:"seconds-until-expiration"`
}

// MarshalJSONControl returns the JSON object form of the control
func (c *PasswordExpiringControl) MarshalJSONControl() (*JSONControlObject, error) {
	const op = "cldap.(PasswordExpiringControl).MarshalJSONControl"
	secs := c.secondsUntilExpiration
	value, err := marshalControlValue(&passwordExpiringControlValue{SecondsUntilExpiration: &secs}, op)
	if err != nil {
		return nil, err
	}
	return &JSONControlObject{
		OID:         ControlTypePasswordExpiring,
		ControlName: passwordExpiringControlName,
		Criticality: c.criticality,
		ValueJSON:   value,
	}, nil
}

func decodePasswordExpiringControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	const op = "cldap.decodePasswordExpiringControlJSON"
	var value passwordExpiringControlValue
	if err := unmarshalControlValue(obj.ValueJSON, strict, &value, op); err != nil {
		return nil, err
	}
	if value.SecondsUntilExpiration == nil {
		return nil, fmt.Errorf("%s: missing required field: seconds-until-expiration: %w", op, ErrDecoding)
	}
	return NewPasswordExpiringControl(*value.SecondsUntilExpiration, WithCriticality(obj.Criticality)), nil
}
