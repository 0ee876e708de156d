// Copyright (c) the cldap Authors
// SPDX-License-Identifier: MIT

package cldap

import (
	"encoding/json"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONControlObject(t *testing.T) {
	tests := []struct {
		name            string
		data            string
		want            *JSONControlObject
		wantErrIs       error
		wantErrContains string
	}{
		{
			name:      "not-json",
			data:      `{oops`,
			wantErrIs: ErrDecoding,
		},
		{
			name:            "missing-oid",
			data:            `{"criticality": true}`,
			wantErrIs:       ErrDecoding,
			wantErrContains: "oid",
		},
		{
			name:            "empty-oid",
			data:            `{"oid": "", "criticality": true}`,
			wantErrIs:       ErrDecoding,
			wantErrContains: "oid",
		},
		{
			name:            "missing-criticality",
			data:            `{"oid": "1.2.3.4"}`,
			wantErrIs:       ErrDecoding,
			wantErrContains: "criticality",
		},
		{
			name:            "wrongly-typed-criticality",
			data:            `{"oid": "1.2.3.4", "criticality": "yes"}`,
			wantErrIs:       ErrDecoding,
			wantErrContains: "malformed structure",
		},
		{
			name:            "both-value-fields",
			data:            `{"oid": "1.2.3.4", "criticality": false, "value-base64": "b3BhcXVl", "value-json": {}}`,
			wantErrIs:       ErrDecoding,
			wantErrContains: "ambiguous variant",
		},
		{
			name:      "invalid-base64",
			data:      `{"oid": "1.2.3.4", "criticality": false, "value-base64": "!!!"}`,
			wantErrIs: ErrDecoding,
		},
		{
			name:            "value-json-not-an-object",
			data:            `{"oid": "1.2.3.4", "criticality": false, "value-json": [1, 2]}`,
			wantErrIs:       ErrDecoding,
			wantErrContains: "not an object",
		},
		{
			name: "no-value",
			data: `{"oid": "1.2.3.4", "criticality": true}`,
			want: &JSONControlObject{OID: "1.2.3.4", Criticality: true},
		},
		{
			name: "null-value-json",
			data: `{"oid": "1.2.3.4", "criticality": true, "value-json": null}`,
			want: &JSONControlObject{OID: "1.2.3.4", Criticality: true},
		},
		{
			name: "null-value-base64",
			data: `{"oid": "1.2.3.4", "criticality": true, "value-base64": null}`,
			want: &JSONControlObject{OID: "1.2.3.4", Criticality: true},
		},
		{
			name: "base64-value",
			data: `{"oid": "1.2.3.4", "criticality": false, "value-base64": "b3BhcXVl"}`,
			want: &JSONControlObject{OID: "1.2.3.4", ValueBase64: []byte("opaque")},
		},
		{
			name: "json-value-with-name",
			data: `{"oid": "1.2.3.4", "control-name": "Example", "criticality": false, "value-json": {"n": 1}}`,
			want: &JSONControlObject{OID: "1.2.3.4", ControlName: "Example", ValueJSON: json.RawMessage(`{"n": 1}`)},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := ParseJSONControlObject([]byte(tc.data))
			if tc.wantErrIs != nil {
				require.Error(err)
				assert.ErrorIs(err, tc.wantErrIs)
				if tc.wantErrContains != "" {
					assert.Contains(err.Error(), tc.wantErrContains)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tc.want, got)
		})
	}
}

func TestJSONControlObject_HasValue(t *testing.T) {
	assert := assert.New(t)
	assert.False((&JSONControlObject{OID: "1.2.3.4"}).HasValue())
	assert.True((&JSONControlObject{OID: "1.2.3.4", ValueBase64: []byte{0x00}}).HasValue())
	assert.True((&JSONControlObject{OID: "1.2.3.4", ValueJSON: []byte(`{}`)}).HasValue())
}

func TestControlToJSON(t *testing.T) {
	t.Run("missing-control", func(t *testing.T) {
		_, err := ControlToJSON(nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})
	t.Run("generic-falls-back-to-base64", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewGenericControl("1.2.3.4", WithCriticality(true), WithValue([]byte("opaque")))
		require.NoError(err)
		obj, err := ControlToJSON(c)
		require.NoError(err)
		assert.Equal("1.2.3.4", obj.OID)
		assert.Empty(obj.ControlName)
		assert.True(obj.Criticality)
		assert.Equal([]byte("opaque"), obj.ValueBase64)
		assert.Nil(obj.ValueJSON)
	})
	t.Run("typed-emits-value-json", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		obj, err := ControlToJSON(NewPagingControl(10))
		require.NoError(err)
		assert.Equal(ControlTypePaging, obj.OID)
		assert.Equal("Simple Paged Results Control", obj.ControlName)
		assert.JSONEq(`{"page-size": 10}`, string(obj.ValueJSON))
		assert.Nil(obj.ValueBase64)
	})
}

func TestPagingControlJSONDocument(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	obj, err := ControlToJSON(NewPagingControl(10))
	require.NoError(err)
	data, err := json.Marshal(obj)
	require.NoError(err)
	assert.JSONEq(`{
		"oid": "1.2.840.113556.1.4.319",
		"control-name": "Simple Paged Results Control",
		"criticality": false,
		"value-json": {"page-size": 10}
	}`, string(data))
}

func TestControlJSONRoundTrips(t *testing.T) {
	secs := int64(3600)

	sortReq, err := NewServerSideSortRequestControl([]SortKey{
		{AttributeName: "sn", MatchingRuleID: "2.5.13.3", Reverse: true},
	}, WithCriticality(true))
	require.NoError(t, err)
	effectiveRights, err := NewGetEffectiveRightsControl("dn:uid=admin,dc=example,dc=com", WithAttributes("cn"))
	require.NoError(t, err)
	generatePassword, err := NewGeneratePasswordResponseControl([]byte("s3cret"), true, &secs)
	require.NoError(t, err)
	// octet strings are not required to be valid UTF-8
	binaryPassword, err := NewGeneratePasswordResponseControl([]byte{0xff, 0x00, 0x7f}, false, nil)
	require.NoError(t, err)
	overrideLimits, err := NewOverrideSearchLimitsControl([]SearchLimitProperty{{Name: "sizeLimit", Value: "100"}})
	require.NoError(t, err)

	runJSONControlTest(t, NewPagingControl(10, WithCookie([]byte("cookie"))))
	runJSONControlTest(t, sortReq)
	runJSONControlTest(t, NewServerSideSortResponseControl(16, "uid"))
	runJSONControlTest(t, NewVLVOffsetRequestControl(1, 0, 9, 2000, WithContextID([]byte("ctx"))))
	runJSONControlTest(t, NewVLVAssertionRequestControl([]byte("smith"), 5, 5))
	runJSONControlTest(t, NewVLVAssertionRequestControl([]byte{0xff, 0xfe, 0x01}, 0, 9))
	runJSONControlTest(t, NewVLVResponseControl(1, 5000, 0, WithContextID([]byte("ctx"))))
	runJSONControlTest(t, effectiveRights)
	runJSONControlTest(t, generatePassword)
	runJSONControlTest(t, binaryPassword)
	runJSONControlTest(t, overrideLimits)
	runJSONControlTest(t, NewSubtreeDeleteControl(WithCriticality(true)))
	runJSONControlTest(t, NewRealAttributesOnlyControl())
	runJSONControlTest(t, NewNameWithEntryUUIDControl())
	runJSONControlTest(t, NewSubentriesControl())
	runJSONControlTest(t, NewPasswordExpiringControl(300))
}

// runJSONControlTest converts a control to its JSON document and decodes it
// back in strict mode, checking the round trip preserves the type, the
// criticality and the binary encoding.
func runJSONControlTest(t *testing.T, original Control) {
	header := ""
	if callerpc, _, line, ok := runtime.Caller(1); ok {
		if caller := runtime.FuncForPC(callerpc); caller != nil {
			header = fmt.Sprintf("%s:%d: ", caller.Name(), line)
		}
	}

	obj, err := ControlToJSON(original)
	if err != nil {
		t.Fatalf("%s: converting control to JSON failed: %s", header, err)
	}
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("%s: marshaling control object failed: %s", header, err)
	}
	decoded, err := DecodeJSON(data, true)
	if err != nil {
		t.Fatalf("%s: decoding control document failed: %s", header, err)
	}
	if fmt.Sprintf("%T", original) != fmt.Sprintf("%T", decoded) {
		t.Errorf("%s: got different type decoding from JSON: %T vs %T", header, decoded, original)
	}
	assert.Equal(t, original.GetCriticality(), decoded.GetCriticality(), header)
	assert.Equal(t, original.GetValue(), decoded.GetValue(), header)
	assert.Equal(t, original.String(), decoded.String(), header)
}

func TestVLVRequestControlJSONVariants(t *testing.T) {
	tests := []struct {
		name            string
		valueJSON       string
		wantErrContains string
	}{
		{
			name:            "both-target-fields",
			valueJSON:       `{"target-offset": 1, "assertion-value": "c21pdGg=", "before-count": 0, "after-count": 9}`,
			wantErrContains: "ambiguous variant",
		},
		{
			name:            "neither-target-field",
			valueJSON:       `{"before-count": 0, "after-count": 9}`,
			wantErrContains: "ambiguous variant",
		},
		{
			name:            "content-count-with-assertion",
			valueJSON:       `{"assertion-value": "c21pdGg=", "before-count": 0, "after-count": 9, "content-count": 100}`,
			wantErrContains: "content-count",
		},
		{
			name:            "missing-before-count",
			valueJSON:       `{"target-offset": 1, "after-count": 9}`,
			wantErrContains: "before-count",
		},
		{
			name:            "invalid-base64-assertion",
			valueJSON:       `{"assertion-value": "!!!", "before-count": 0, "after-count": 9}`,
			wantErrContains: "invalid base64 in assertion-value",
		},
		{
			name:      "offset-variant",
			valueJSON: `{"target-offset": 1, "before-count": 0, "after-count": 9, "content-count": 0}`,
		},
		{
			name:      "assertion-variant",
			valueJSON: `{"assertion-value": "c21pdGg=", "before-count": 0, "after-count": 9}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			doc := fmt.Sprintf(`{"oid": %q, "criticality": true, "value-json": %s}`, ControlTypeVLVRequest, tc.valueJSON)
			decoded, err := DecodeJSON([]byte(doc), true)
			if tc.wantErrContains != "" {
				require.Error(err)
				assert.ErrorIs(err, ErrDecoding)
				assert.Contains(err.Error(), tc.wantErrContains)
				return
			}
			require.NoError(err)
			assert.IsType(&VLVRequestControl{}, decoded)
		})
	}
}

func TestNoValueControlRejectsValueJSON(t *testing.T) {
	doc := fmt.Sprintf(`{"oid": %q, "criticality": true, "value-json": {"extra": true}}`, ControlTypeSubtreeDelete)
	_, err := DecodeJSON([]byte(doc), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecoding)
	assert.Contains(t, err.Error(), "does not take a value")
}

func TestOverrideSearchLimitsControlJSON(t *testing.T) {
	t.Run("duplicate-key", func(t *testing.T) {
		doc := fmt.Sprintf(`{"oid": %q, "criticality": false, "value-json": {
			"properties": [
				{"name": "sizeLimit", "value": "10"},
				{"name": "sizeLimit", "value": "20"}
			]
		}}`, ControlTypeOverrideSearchLimits)
		_, err := DecodeJSON([]byte(doc), false)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDecoding)
		assert.Contains(t, err.Error(), "duplicate key")
	})
	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		doc := fmt.Sprintf(`{"oid": %q, "criticality": false, "value-json": {
			"properties": [{"name": "sizeLimit", "value": "10"}]
		}}`, ControlTypeOverrideSearchLimits)
		decoded, err := DecodeJSON([]byte(doc), false)
		require.NoError(err)
		c, ok := decoded.(*OverrideSearchLimitsControl)
		require.True(ok, "got %T", decoded)
		assert.Equal("10", c.Property("sizeLimit"))
	})
}
