package cldap

import (
	"encoding/base64"
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"golang.org/x/exp/slices"
)

// ControlTypeGeneratePasswordResponse - the response control returned by the
// Ping Identity directory server when an add or password-modify request asked
// the server to generate the password.
const ControlTypeGeneratePasswordResponse = "1.3.6.1.4.1.30221.2.5.59"

const generatePasswordResponseControlName = "Generate Password Response Control"

// The seconds-until-expiration element is an optional context [0] integer.
const generatePasswordSecondsUntilExpirationTag ber.Tag = 0

// GeneratePasswordResponseControl carries the password a server generated
// for a newly created entry, whether the user must change it on first use,
// and optionally how long until it expires.
type GeneratePasswordResponseControl struct {
	criticality            bool
	generatedPassword      []byte
	mustChangePassword     bool
	secondsUntilExpiration *int64
	value                  []byte
}

// NewGeneratePasswordResponseControl creates a generate password response
// control.  secondsUntilExpiration may be nil when no expiration applies.
// Supported options: WithCriticality.
func NewGeneratePasswordResponseControl(generatedPassword []byte, mustChangePassword bool, secondsUntilExpiration *int64, opt ...Option) (*GeneratePasswordResponseControl, error) {
	const op = "cldap.NewGeneratePasswordResponseControl"
	if len(generatedPassword) == 0 {
		return nil, fmt.Errorf("%s: missing generated password: %w", op, ErrInvalidParameter)
	}
	opts := getControlOpts(opt...)
	c := &GeneratePasswordResponseControl{
		generatedPassword:  slices.Clone(generatedPassword),
		mustChangePassword: mustChangePassword,
	}
	if secondsUntilExpiration != nil {
		secs := *secondsUntilExpiration
		c.secondsUntilExpiration = &secs
	}
	if opts.withCriticality != nil {
		c.criticality = *opts.withCriticality
	}
	c.value = c.encodeValue()
	return c, nil
}

func (c *GeneratePasswordResponseControl) encodeValue() []byte {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Generate Password Value")
	pw := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Generated Password")
	pw.Value = c.generatedPassword
	pw.Data.Write(c.generatedPassword)
	seq.AppendChild(pw)
	seq.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, c.mustChangePassword, "Must Change Password"))
	if c.secondsUntilExpiration != nil {
		seq.AppendChild(ber.NewInteger(ber.ClassContext, ber.TypePrimitive, generatePasswordSecondsUntilExpirationTag, *c.secondsUntilExpiration, "Seconds Until Expiration"))
	}
	return seq.Bytes()
}

func decodeGeneratePasswordResponseControl(oid string, criticality bool, value []byte) (Control, error) {
	const op = "cldap.decodeGeneratePasswordResponseControl"
	if value == nil {
		return nil, fmt.Errorf("%s: missing required value: %w", op, ErrDecoding)
	}
	children, err := decodeValueSequence(value, op)
	if err != nil {
		return nil, err
	}
	password, err := requireStringChild(children, 0, "generated password", op)
	if err != nil {
		return nil, err
	}
	if len(children) < 2 || children[1].ClassType != ber.ClassUniversal || children[1].Tag != ber.TagBoolean {
		return nil, fmt.Errorf("%s: missing required field: must change password: %w", op, ErrDecoding)
	}
	mustChange, ok := children[1].Value.(bool)
	if !ok {
		return nil, fmt.Errorf("%s: malformed structure: invalid must change password flag: %w", op, ErrDecoding)
	}

	c := &GeneratePasswordResponseControl{
		criticality:        criticality,
		generatedPassword:  slices.Clone(password),
		mustChangePassword: mustChange,
		value:              slices.Clone(value),
	}
	// Optional context-tagged trailing elements; unrecognized tags are
	// ignored for forward compatibility.
	for _, extra := range children[2:] {
		if extra.ClassType == ber.ClassContext && extra.Tag == generatePasswordSecondsUntilExpirationTag {
			secs, err := parseInt64(extra, op)
			if err != nil {
				return nil, err
			}
			c.secondsUntilExpiration = &secs
		}
	}
	return c, nil
}

// GetControlType returns the OID
func (c *GeneratePasswordResponseControl) GetControlType() string {
	return ControlTypeGeneratePasswordResponse
}

// GetCriticality returns the criticality flag
func (c *GeneratePasswordResponseControl) GetCriticality() bool { return c.criticality }

// GetValue returns the encoded control value
func (c *GeneratePasswordResponseControl) GetValue() []byte { return slices.Clone(c.value) }

// GetControlName returns a human-readable name for the control
func (c *GeneratePasswordResponseControl) GetControlName() string {
	return generatePasswordResponseControlName
}

// GeneratedPassword returns the password the server generated
func (c *GeneratePasswordResponseControl) GeneratedPassword() []byte {
	return slices.Clone(c.generatedPassword)
}

// MustChangePassword reports whether the user must change the password
// before being allowed to do anything else
func (c *GeneratePasswordResponseControl) MustChangePassword() bool { return c.mustChangePassword }

// SecondsUntilExpiration returns the number of seconds until the generated
// password expires, or nil when no expiration applies
func (c *GeneratePasswordResponseControl) SecondsUntilExpiration() *int64 {
	if c.secondsUntilExpiration == nil {
		return nil
	}
	secs := *c.secondsUntilExpiration
	return &secs
}

// Encode returns the ber packet representation
func (c *GeneratePasswordResponseControl) Encode() *ber.Packet {
	return encodeControlEnvelope(ControlTypeGeneratePasswordResponse, c.criticality, c.value, generatePasswordResponseControlName)
}

// String returns a human-readable description.  The generated password is
// deliberately not included.
func (c *GeneratePasswordResponseControl) String() string {
	return fmt.Sprintf("Control Type: %s (%q)  Criticality: %t  MustChangePassword: %t",
		generatePasswordResponseControlName, ControlTypeGeneratePasswordResponse, c.criticality, c.mustChangePassword)
}

type generatePasswordResponseControlValue struct {
	GeneratedPassword      *string `json:"generated-password"`
	MustChangePassword     *bool   `json:"must-change-password"`
	SecondsUntilExpiration *int64  `json:"seconds-until-expiration,omitempty"`
}

// MarshalJSONControl returns the JSON object form of the control
func (c *GeneratePasswordResponseControl) MarshalJSONControl() (*JSONControlObject, error) {
	const op = "cldap.(GeneratePasswordResponseControl).MarshalJSONControl"
	// the generated password is an opaque octet string, so it travels as
	// base64 like every other binary field
	password := base64.StdEncoding.EncodeToString(c.generatedPassword)
	mustChange := c.mustChangePassword
	v := generatePasswordResponseControlValue{
		GeneratedPassword:      &password,
		MustChangePassword:     &mustChange,
		SecondsUntilExpiration: c.SecondsUntilExpiration(),
	}
	value, err := marshalControlValue(&v, op)
	if err != nil {
		return nil, err
	}
	return &JSONControlObject{
		OID:         ControlTypeGeneratePasswordResponse,
		ControlName: generatePasswordResponseControlName,
		Criticality: c.criticality,
		ValueJSON:   value,
	}, nil
}

func decodeGeneratePasswordResponseControlJSON(obj *JSONControlObject, strict bool) (Control, error) {
	const op = "cldap.decodeGeneratePasswordResponseControlJSON"
	var value generatePasswordResponseControlValue
	if err := unmarshalControlValue(obj.ValueJSON, strict, &value, op); err != nil {
		return nil, err
	}
	if value.GeneratedPassword == nil || *value.GeneratedPassword == "" {
		return nil, fmt.Errorf("%s: missing required field: generated-password: %w", op, ErrDecoding)
	}
	if value.MustChangePassword == nil {
		return nil, fmt.Errorf("%s: missing required field: must-change-password: %w", op, ErrDecoding)
	}
	password, err := base64.StdEncoding.DecodeString(*value.GeneratedPassword)
	if err != nil {
		return nil, fmt.Errorf("%s: malformed structure: invalid base64 in generated-password: %w", op, ErrDecoding)
	}
	c, err := NewGeneratePasswordResponseControl(password, *value.MustChangePassword,
		value.SecondsUntilExpiration, WithCriticality(obj.Criticality))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}
