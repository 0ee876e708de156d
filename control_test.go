// Copyright (c) the cldap Authors
// SPDX-License-Identifier: MIT

package cldap

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"runtime"
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlGeneric(t *testing.T) {
	c, err := NewGenericControl("1.2.3.4", WithCriticality(true), WithValue([]byte("y")))
	require.NoError(t, err)
	runControlTest(t, c, `Control Type: "1.2.3.4"  Criticality: true  Control Value: "y"`)

	c, err = NewGenericControl("1.2.3.4")
	require.NoError(t, err)
	runControlTest(t, c, `Control Type: "1.2.3.4"  Criticality: false`)

	c, err = NewGenericControl("1.2.3.4", WithValue([]byte("y")))
	require.NoError(t, err)
	runControlTest(t, c, "")
}

func TestControlPaging(t *testing.T) {
	runControlTest(t, NewPagingControl(10),
		"Control Type: Simple Paged Results Control (\"1.2.840.113556.1.4.319\")  Criticality: false  PageSize: 10  Cookie: \"\"")
	runControlTest(t, NewPagingControl(0, WithCookie([]byte("opaque")), WithCriticality(true)), "")
}

func TestPagingControl_NextPageControl(t *testing.T) {
	assert := assert.New(t)
	response := NewPagingControl(0, WithCookie([]byte("server-cookie")))
	assert.True(response.HasMorePages())

	next := response.NextPageControl(50)
	assert.Equal(uint32(50), next.PageSize())
	assert.Equal([]byte("server-cookie"), next.Cookie())

	done := NewPagingControl(0)
	assert.False(done.HasMorePages())
}

func TestControlServerSideSortRequest(t *testing.T) {
	c, err := NewServerSideSortRequestControl([]SortKey{{AttributeName: "cn"}})
	require.NoError(t, err)
	decoded := runControlTest(t, c, "").(*ServerSideSortRequestControl)
	assert.Equal(t, []SortKey{{AttributeName: "cn"}}, decoded.SortKeys())

	c, err = NewServerSideSortRequestControl([]SortKey{
		{AttributeName: "sn", MatchingRuleID: "2.5.13.3", Reverse: true},
		{AttributeName: "givenName"},
	}, WithCriticality(true))
	require.NoError(t, err)
	decoded = runControlTest(t, c, "").(*ServerSideSortRequestControl)
	assert.True(t, decoded.GetCriticality())
	assert.Equal(t, c.SortKeys(), decoded.SortKeys())
}

func TestControlServerSideSortResponse(t *testing.T) {
	decoded := runControlTest(t, NewServerSideSortResponseControl(0, ""), "").(*ServerSideSortResponseControl)
	assert.Equal(t, 0, decoded.ResultCode())
	assert.Empty(t, decoded.AttributeName())

	decoded = runControlTest(t, NewServerSideSortResponseControl(16, "uid"), "").(*ServerSideSortResponseControl)
	assert.Equal(t, 16, decoded.ResultCode())
	assert.Equal(t, "uid", decoded.AttributeName())
}

func TestControlVLVRequest(t *testing.T) {
	decoded := runControlTest(t, NewVLVOffsetRequestControl(1, 0, 9, 0), "").(*VLVRequestControl)
	assert.True(t, decoded.TargetsByOffset())
	assert.True(t, decoded.GetCriticality())
	assert.Equal(t, int32(1), decoded.TargetOffset())
	assert.Equal(t, int32(9), decoded.AfterCount())

	decoded = runControlTest(t,
		NewVLVAssertionRequestControl([]byte("smith"), 5, 5, WithContextID([]byte("ctx")), WithCriticality(false)),
		"").(*VLVRequestControl)
	assert.False(t, decoded.TargetsByOffset())
	assert.False(t, decoded.GetCriticality())
	assert.Equal(t, []byte("smith"), decoded.AssertionValue())
	assert.Equal(t, []byte("ctx"), decoded.ContextID())
}

func TestControlVLVResponse(t *testing.T) {
	decoded := runControlTest(t, NewVLVResponseControl(1, 5000, 0, WithContextID([]byte("ctx"))), "").(*VLVResponseControl)
	assert.Equal(t, int32(1), decoded.TargetPosition())
	assert.Equal(t, int32(5000), decoded.ContentCount())
	assert.Equal(t, 0, decoded.ResultCode())
	assert.Equal(t, []byte("ctx"), decoded.ContextID())

	runControlTest(t, NewVLVResponseControl(0, 0, 76), "")
}

func TestControlGetEffectiveRights(t *testing.T) {
	c, err := NewGetEffectiveRightsControl("dn:uid=admin,dc=example,dc=com", WithAttributes("cn", "sn"))
	require.NoError(t, err)
	decoded := runControlTest(t, c, "").(*GetEffectiveRightsControl)
	assert.Equal(t, "dn:uid=admin,dc=example,dc=com", decoded.AuthorizationID())
	assert.Equal(t, []string{"cn", "sn"}, decoded.Attributes())

	c, err = NewGetEffectiveRightsControl("dn:")
	require.NoError(t, err)
	runControlTest(t, c, "")
}

func TestControlGeneratePasswordResponse(t *testing.T) {
	secs := int64(86400)
	c, err := NewGeneratePasswordResponseControl([]byte("s3cret"), true, &secs)
	require.NoError(t, err)
	decoded := runControlTest(t, c,
		"Control Type: Generate Password Response Control (\"1.3.6.1.4.1.30221.2.5.59\")  Criticality: false  MustChangePassword: true").(*GeneratePasswordResponseControl)
	assert.Equal(t, []byte("s3cret"), decoded.GeneratedPassword())
	assert.True(t, decoded.MustChangePassword())
	require.NotNil(t, decoded.SecondsUntilExpiration())
	assert.Equal(t, secs, *decoded.SecondsUntilExpiration())

	c, err = NewGeneratePasswordResponseControl([]byte("s3cret"), false, nil)
	require.NoError(t, err)
	decoded = runControlTest(t, c, "").(*GeneratePasswordResponseControl)
	assert.Nil(t, decoded.SecondsUntilExpiration())
}

func TestControlOverrideSearchLimits(t *testing.T) {
	c, err := NewOverrideSearchLimitsControl([]SearchLimitProperty{
		{Name: "sizeLimit", Value: "1000"},
		{Name: "timeLimitSeconds", Value: "30"},
	})
	require.NoError(t, err)
	decoded := runControlTest(t, c, "").(*OverrideSearchLimitsControl)
	assert.Equal(t, "1000", decoded.Property("sizeLimit"))
	assert.Equal(t, "30", decoded.Property("timeLimitSeconds"))
	assert.Empty(t, decoded.Property("idleTimeLimitSeconds"))
}

func TestControlSubtreeDelete(t *testing.T) {
	runControlTest(t, NewSubtreeDeleteControl(WithCriticality(true)),
		"Control Type: Subtree Delete Request Control (\"1.2.840.113556.1.4.805\")  Criticality: true")
	runControlTest(t, NewSubtreeDeleteControl(), "")
}

func TestControlRealAttributesOnly(t *testing.T) {
	runControlTest(t, NewRealAttributesOnlyControl(),
		"Control Type: Real Attributes Only Request Control (\"2.16.840.1.113730.3.4.17\")  Criticality: false")
}

func TestControlNameWithEntryUUID(t *testing.T) {
	runControlTest(t, NewNameWithEntryUUIDControl(WithCriticality(true)), "")
}

func TestControlSubentries(t *testing.T) {
	runControlTest(t, NewSubentriesControl(),
		"Control Type: Subentries Request Control (\"1.3.6.1.4.1.7628.5.101.1\")  Criticality: false")
}

func TestControlPasswordExpiring(t *testing.T) {
	c := NewPasswordExpiringControl(300)
	assert.Equal(t, []byte("300"), c.GetValue())
	decoded := runControlTest(t, c,
		"Control Type: Password Expiring Response Control (\"2.16.840.1.113730.3.4.5\")  Criticality: false  SecondsUntilExpiration: 300").(*PasswordExpiringControl)
	assert.Equal(t, int32(300), decoded.SecondsUntilExpiration())
}

// runControlTest encodes a control, decodes it back through its ber packet
// and through the raw wire bytes, and checks both round trips reproduce the
// original encoding and type.  It returns the decoded control so callers
// can assert type-specific fields.
func runControlTest(t *testing.T, originalControl Control, wantString string) Control {
	header := ""
	if callerpc, _, line, ok := runtime.Caller(1); ok {
		if caller := runtime.FuncForPC(callerpc); caller != nil {
			header = fmt.Sprintf("%s:%d: ", caller.Name(), line)
		}
	}

	encodedPacket := originalControl.Encode()
	encodedBytes := encodedPacket.Bytes()

	// Decode directly from the encoded packet (ensures the value is correct)
	generic, err := decodeControlEnvelope(encodedPacket)
	if err != nil {
		t.Fatalf("%s: decoding control envelope failed: %s", header, err)
	}
	fromPacket, err := Decode(generic)
	if err != nil {
		t.Fatalf("%s: decoding control failed: %s", header, err)
	}
	if !bytes.Equal(encodedBytes, fromPacket.Encode().Bytes()) {
		t.Errorf("%s: round-trip from encoded packet failed", header)
	}
	if reflect.TypeOf(originalControl) != reflect.TypeOf(fromPacket) {
		t.Errorf("%s: got different type decoding from encoded packet: %T vs %T", header, fromPacket, originalControl)
	}

	// Decode from the wire bytes (ensures the ber encoding is correct)
	pkt, err := ber.DecodePacketErr(encodedBytes)
	if err != nil {
		t.Fatalf("%s: decoding encoded bytes failed: %s", header, err)
	}
	generic, err = decodeControlEnvelope(pkt)
	if err != nil {
		t.Fatalf("%s: decoding control envelope from bytes failed: %s", header, err)
	}
	fromBytes, err := Decode(generic)
	if err != nil {
		t.Fatalf("%s: decoding control from bytes failed: %s", header, err)
	}
	if !bytes.Equal(encodedBytes, fromBytes.Encode().Bytes()) {
		t.Errorf("%s: round-trip from encoded bytes failed", header)
	}
	if reflect.TypeOf(originalControl) != reflect.TypeOf(fromBytes) {
		t.Errorf("%s: got different type decoding from encoded bytes: %T vs %T", header, fromBytes, originalControl)
	}

	assert.Equal(t, originalControl.GetControlType(), fromPacket.GetControlType())
	assert.Equal(t, originalControl.GetCriticality(), fromPacket.GetCriticality())
	if wantString != "" {
		assert.Equal(t, wantString, fromPacket.String())
	}
	return fromPacket
}

func TestNewGenericControl(t *testing.T) {
	tests := []struct {
		name            string
		oid             string
		opts            []Option
		wantCriticality bool
		wantValue       []byte
		wantErrIs       error
	}{
		{
			name:      "missing-oid",
			oid:       "",
			wantErrIs: ErrInvalidParameter,
		},
		{
			name: "plain",
			oid:  "1.2.3.4",
		},
		{
			name:            "with-everything",
			oid:             "1.2.3.4",
			opts:            []Option{WithCriticality(true), WithValue([]byte("v"))},
			wantCriticality: true,
			wantValue:       []byte("v"),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewGenericControl(tc.oid, tc.opts...)
			if tc.wantErrIs != nil {
				require.Error(err)
				assert.ErrorIs(err, tc.wantErrIs)
				return
			}
			require.NoError(err)
			assert.Equal(tc.oid, c.GetControlType())
			assert.Equal(tc.wantCriticality, c.GetCriticality())
			assert.Equal(tc.wantValue, c.GetValue())
			assert.Equal(tc.wantValue != nil, c.HasValue())
		})
	}
}

func TestGenericControl_Equal(t *testing.T) {
	a, err := NewGenericControl("1.2.3.4", WithValue([]byte("v")))
	require.NoError(t, err)
	b, err := NewGenericControl("1.2.3.4", WithValue([]byte("v")))
	require.NoError(t, err)
	c, err := NewGenericControl("1.2.3.4", WithValue([]byte("v")), WithCriticality(true))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
	var nilControl *GenericControl
	assert.True(t, nilControl.Equal(nil))
}

func Test_decodeControlEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		packet    func() *ber.Packet
		wantErrIs error
	}{
		{
			name:      "missing-packet",
			packet:    func() *ber.Packet { return nil },
			wantErrIs: ErrInvalidParameter,
		},
		{
			name: "no-children",
			packet: func() *ber.Packet {
				return ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
			},
			wantErrIs: ErrDecoding,
		},
		{
			name: "too-many-children",
			packet: func() *ber.Packet {
				p := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
				for i := 0; i < 4; i++ {
					p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "x", ""))
				}
				return p
			},
			wantErrIs: ErrDecoding,
		},
		{
			name: "missing-control-type",
			packet: func() *ber.Packet {
				p := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
				p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, 1, ""))
				return p
			},
			wantErrIs: ErrDecoding,
		},
		{
			name: "unexpected-element",
			packet: func() *ber.Packet {
				p := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
				p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "1.2.3.4", ""))
				p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, 1, ""))
				return p
			},
			wantErrIs: ErrDecoding,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			_, err := decodeControlEnvelope(tc.packet())
			require.Error(err)
			assert.ErrorIs(err, tc.wantErrIs)
		})
	}
}

func TestEncodeControls(t *testing.T) {
	require := require.New(t)
	generic, err := NewGenericControl("1.2.3.4.5.6", WithValue([]byte("opaque")))
	require.NoError(err)
	sub := NewSubtreeDeleteControl(WithCriticality(true))
	paging := NewPagingControl(100, WithCookie([]byte("cookie")))

	packet := EncodeControls(generic, sub, paging)
	require.Len(packet.Children, 3)
	assert.Equal(t, ber.ClassContext, packet.ClassType)
	assert.Equal(t, ber.Tag(0), packet.Tag)

	// Re-parse from the wire to prove the envelope survives serialization.
	parsed, err := ber.DecodePacketErr(packet.Bytes())
	require.NoError(err)
	decoded, err := DecodeControls(parsed)
	require.NoError(err)
	require.Len(decoded, 3)

	fromWire, ok := decoded[0].(*GenericControl)
	require.True(ok, "unregistered OID must pass through as generic, got %T", decoded[0])
	assert.True(t, generic.Equal(fromWire))
	assert.IsType(t, &SubtreeDeleteControl{}, decoded[1])
	assert.IsType(t, &PagingControl{}, decoded[2])
}

func TestDecodeControls(t *testing.T) {
	t.Run("missing-packet", func(t *testing.T) {
		_, err := DecodeControls(nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("malformed-control-fails-list", func(t *testing.T) {
		packet := EncodeControls(NewPagingControl(10))
		bad := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
		packet.AppendChild(bad)
		_, err := DecodeControls(packet)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDecoding)
	})
	t.Run("custom-registry", func(t *testing.T) {
		require := require.New(t)
		reg := NewRegistry()
		packet := EncodeControls(NewPagingControl(10))
		decoded, err := DecodeControls(packet, WithRegistry(reg))
		require.NoError(err)
		require.Len(decoded, 1)
		// the empty registry knows no OIDs, so paging stays generic
		assert.IsType(t, &GenericControl{}, decoded[0])
	})
}

func TestNewServerSideSortRequestControl(t *testing.T) {
	tests := []struct {
		name      string
		keys      []SortKey
		wantErrIs error
	}{
		{
			name:      "empty-key-list",
			keys:      nil,
			wantErrIs: ErrInvalidParameter,
		},
		{
			name:      "missing-attribute-name",
			keys:      []SortKey{{Reverse: true}},
			wantErrIs: ErrInvalidParameter,
		},
		{
			name: "valid",
			keys: []SortKey{{AttributeName: "cn"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewServerSideSortRequestControl(tc.keys)
			if tc.wantErrIs != nil {
				require.Error(err)
				assert.ErrorIs(err, tc.wantErrIs)
				return
			}
			require.NoError(err)
			assert.Equal(tc.keys, c.SortKeys())
		})
	}
}

func TestNewOverrideSearchLimitsControl(t *testing.T) {
	tests := []struct {
		name            string
		properties      []SearchLimitProperty
		wantErrIs       error
		wantErrContains string
	}{
		{
			name:      "empty-property-list",
			wantErrIs: ErrInvalidParameter,
		},
		{
			name:       "missing-name",
			properties: []SearchLimitProperty{{Value: "10"}},
			wantErrIs:  ErrInvalidParameter,
		},
		{
			name:       "missing-value",
			properties: []SearchLimitProperty{{Name: "sizeLimit"}},
			wantErrIs:  ErrInvalidParameter,
		},
		{
			name: "duplicate-key",
			properties: []SearchLimitProperty{
				{Name: "sizeLimit", Value: "10"},
				{Name: "sizeLimit", Value: "20"},
			},
			wantErrIs:       ErrInvalidParameter,
			wantErrContains: "duplicate key",
		},
		{
			name:       "valid",
			properties: []SearchLimitProperty{{Name: "sizeLimit", Value: "10"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewOverrideSearchLimitsControl(tc.properties)
			if tc.wantErrIs != nil {
				require.Error(err)
				assert.ErrorIs(err, tc.wantErrIs)
				if tc.wantErrContains != "" {
					assert.Contains(err.Error(), tc.wantErrContains)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tc.properties, c.Properties())
		})
	}
}

func TestNewGetEffectiveRightsControl(t *testing.T) {
	_, err := NewGetEffectiveRightsControl("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestNewGeneratePasswordResponseControl(t *testing.T) {
	_, err := NewGeneratePasswordResponseControl(nil, false, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func Test_decodeNoValue(t *testing.T) {
	_, err := decodeSubtreeDeleteControl(ControlTypeSubtreeDelete, false, []byte("unexpected"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecoding)
}

func Test_decodePagingControl(t *testing.T) {
	pagingValue := func(size int64, cookie []byte) []byte {
		seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Paged Results Value")
		seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, size, "Page Size"))
		ck := ber.Encode(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, nil, "Cookie")
		ck.Value = cookie
		ck.Data.Write(cookie)
		seq.AppendChild(ck)
		return seq.Bytes()
	}
	tests := []struct {
		name            string
		value           []byte
		wantPageSize    uint32
		wantErrIs       error
		wantErrContains string
	}{
		{
			name:      "missing-value",
			value:     nil,
			wantErrIs: ErrDecoding,
		},
		{
			name:            "negative-page-size",
			value:           pagingValue(-1, nil),
			wantErrIs:       ErrDecoding,
			wantErrContains: "out of range",
		},
		{
			name:            "page-size-too-large",
			value:           pagingValue(int64(math.MaxUint32)+1, nil),
			wantErrIs:       ErrDecoding,
			wantErrContains: "out of range",
		},
		{
			name:         "valid",
			value:        pagingValue(25, []byte("cookie")),
			wantPageSize: 25,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := decodePagingControl(ControlTypePaging, false, tc.value)
			if tc.wantErrIs != nil {
				require.Error(err)
				assert.ErrorIs(err, tc.wantErrIs)
				if tc.wantErrContains != "" {
					assert.Contains(err.Error(), tc.wantErrContains)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tc.wantPageSize, c.(*PagingControl).PageSize())
		})
	}
}

func Test_decodePasswordExpiringControl(t *testing.T) {
	tests := []struct {
		name      string
		value     []byte
		wantSecs  int32
		wantErrIs error
	}{
		{
			name:      "missing-value",
			value:     nil,
			wantErrIs: ErrDecoding,
		},
		{
			name:      "not-a-decimal",
			value:     []byte("soon"),
			wantErrIs: ErrDecoding,
		},
		{
			name:     "valid",
			value:    []byte("42"),
			wantSecs: 42,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := decodePasswordExpiringControl(ControlTypePasswordExpiring, false, tc.value)
			if tc.wantErrIs != nil {
				require.Error(err)
				assert.ErrorIs(err, tc.wantErrIs)
				return
			}
			require.NoError(err)
			assert.Equal(tc.wantSecs, c.(*PasswordExpiringControl).SecondsUntilExpiration())
		})
	}
}
