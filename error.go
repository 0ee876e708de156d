// Copyright (c) the cldap Authors
// SPDX-License-Identifier: MIT

package cldap

import "errors"

var (
	// ErrInvalidParameter indicates an invalid parameter was passed by the
	// caller (a nil control, an empty OID, etc).
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDecoding indicates that a control (binary or JSON) could not be
	// decoded.  The wrapped message carries the specific cause: a missing
	// required value, a malformed structure, an unrecognized field in strict
	// mode, a duplicate key, an empty collection, an ambiguous variant or an
	// unsupported type tag.  Unknown-but-well-formed controls are never
	// reported as an ErrDecoding; only malformed ones are.
	ErrDecoding = errors.New("decoding error")

	// ErrConnection indicates that a connection to a referral target could
	// not be established.
	ErrConnection = errors.New("connection error")

	// ErrInternal indicates an unexpected internal condition.
	ErrInternal = errors.New("internal error")
)
