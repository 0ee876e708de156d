package cldap

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ControlDecoder turns the wire-level parts of a control into its typed
// form.  The value is nil when the control was received without a value.
type ControlDecoder func(oid string, criticality bool, value []byte) (Control, error)

// JSONValueDecoder turns a JSON control object carrying a value-json field
// into the control's typed form.  In strict mode unrecognized sub-fields are
// a decode error.
type JSONValueDecoder func(obj *JSONControlObject, strict bool) (Control, error)

type registryEntry struct {
	binary ControlDecoder
	json   JSONValueDecoder
}

// Registry maps control OIDs to decoders.  Reads (every inbound control
// decode) vastly outnumber writes (registration, typically only at init
// time), so entries are guarded with a single RWMutex: registrations are
// atomic from a reader's point of view and concurrent decodes never contend
// with each other.
//
// OIDs are globally unique by protocol convention, so a flat map with
// replace semantics is all that's needed: registering a decoder for an OID
// that already has one replaces it, which lets applications override the
// built-in behavior.
type Registry struct {
	mu       sync.RWMutex
	logger   hclog.Logger
	decoders map[string]registryEntry
}

// NewRegistry creates an empty registry.  Supported options: WithLogger.
func NewRegistry(opt ...Option) *Registry {
	opts := getRegistryOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Registry{
		logger:   logger,
		decoders: map[string]registryEntry{},
	}
}

// Register associates a decoder with an OID, replacing any existing decoder
// for the same OID (last writer wins).  A JSON value decoder may be attached
// with WithJSONDecoder.  Register never fails and is safe to call
// concurrently with decodes; registering for one OID doesn't affect
// in-flight decodes of another.
func (r *Registry) Register(oid string, decoder ControlDecoder, opt ...Option) {
	const op = "cldap.(Registry).Register"
	if oid == "" || decoder == nil {
		return
	}
	opts := getRegistryOpts(opt...)
	r.mu.Lock()
	r.decoders[oid] = registryEntry{binary: decoder, json: opts.withJSONDecoder}
	r.mu.Unlock()
	r.logger.Debug("registered control decoder", "op", op, "oid", oid)
}

func (r *Registry) lookup(oid string) (registryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.decoders[oid]
	return e, ok
}

// OIDs returns the sorted set of registered OIDs.
func (r *Registry) OIDs() []string {
	r.mu.RLock()
	oids := maps.Keys(r.decoders)
	r.mu.RUnlock()
	slices.Sort(oids)
	return oids
}

// Decode upgrades a generic control to its typed form.  A control whose OID
// has no registered decoder is returned unchanged, never dropped and never
// an error, regardless of its criticality: a client must not fail merely
// because a server sent an extension it doesn't understand.  Enforcing
// criticality for unsupported controls is the operation layer's concern.
func (r *Registry) Decode(c *GenericControl) (Control, error) {
	const op = "cldap.(Registry).Decode"
	if c == nil {
		return nil, fmt.Errorf("%s: missing control: %w", op, ErrInvalidParameter)
	}
	entry, ok := r.lookup(c.GetControlType())
	if !ok {
		return c, nil
	}
	decoded, err := entry.binary(c.oid, c.criticality, c.GetValue())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return decoded, nil
}

// DecodeJSON decodes a parsed JSON control object into its typed form.
//
// A value-base64 field is re-routed through the binary decode path so both
// input forms converge on one code path.  A value-json field requires a
// registered JSON decoder for the OID; in strict mode the decoder rejects
// any unrecognized sub-field.  Objects with an unregistered OID pass through
// as *GenericControl when their value (if any) is opaque; an unregistered
// OID with a value-json object is a decode error because the binary value
// can't be reconstructed from it.
func (r *Registry) DecodeJSON(obj *JSONControlObject, strict bool) (Control, error) {
	const op = "cldap.(Registry).DecodeJSON"
	if obj == nil {
		return nil, fmt.Errorf("%s: missing control object: %w", op, ErrInvalidParameter)
	}
	if obj.OID == "" {
		return nil, fmt.Errorf("%s: missing required field: oid: %w", op, ErrDecoding)
	}
	if obj.ValueBase64 != nil && obj.ValueJSON != nil {
		return nil, fmt.Errorf("%s: ambiguous variant: both value-base64 and value-json are present: %w", op, ErrDecoding)
	}

	entry, registered := r.lookup(obj.OID)
	switch {
	case obj.ValueJSON != nil:
		if !registered || entry.json == nil {
			return nil, fmt.Errorf("%s: no structured decoder for oid %q with value-json: %w", op, obj.OID, ErrDecoding)
		}
		decoded, err := entry.json(obj, strict)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return decoded, nil
	case registered:
		decoded, err := entry.binary(obj.OID, obj.Criticality, obj.ValueBase64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return decoded, nil
	default:
		opts := []Option{WithCriticality(obj.Criticality)}
		if obj.ValueBase64 != nil {
			opts = append(opts, WithValue(obj.ValueBase64))
		}
		generic, err := NewGenericControl(obj.OID, opts...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return generic, nil
	}
}

// defaultRegistry is the process-wide registry, populated with every
// built-in control at init time.  It's never torn down.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used when no registry is
// injected.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register registers a decoder with the default registry.  See
// Registry.Register.
func Register(oid string, decoder ControlDecoder, opt ...Option) {
	defaultRegistry.Register(oid, decoder, opt...)
}

// Decode upgrades a generic control using the default registry.  See
// Registry.Decode.
func Decode(c *GenericControl) (Control, error) {
	return defaultRegistry.Decode(c)
}

// DecodeJSON parses data as a JSON control object and decodes it using the
// default registry.  See Registry.DecodeJSON.
func DecodeJSON(data []byte, strict bool) (Control, error) {
	const op = "cldap.DecodeJSON"
	obj, err := ParseJSONControlObject(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return defaultRegistry.DecodeJSON(obj, strict)
}

func init() {
	registerBuiltins(defaultRegistry)
}

// registerBuiltins installs the decoder for every control in the catalog.
// Applications may replace any of them at runtime by re-registering the
// same OID.
func registerBuiltins(r *Registry) {
	r.Register(ControlTypePaging, decodePagingControl,
		WithJSONDecoder(decodePagingControlJSON))
	r.Register(ControlTypeServerSideSortRequest, decodeServerSideSortRequestControl,
		WithJSONDecoder(decodeServerSideSortRequestControlJSON))
	r.Register(ControlTypeServerSideSortResponse, decodeServerSideSortResponseControl,
		WithJSONDecoder(decodeServerSideSortResponseControlJSON))
	r.Register(ControlTypeVLVRequest, decodeVLVRequestControl,
		WithJSONDecoder(decodeVLVRequestControlJSON))
	r.Register(ControlTypeVLVResponse, decodeVLVResponseControl,
		WithJSONDecoder(decodeVLVResponseControlJSON))
	r.Register(ControlTypeGetEffectiveRights, decodeGetEffectiveRightsControl,
		WithJSONDecoder(decodeGetEffectiveRightsControlJSON))
	r.Register(ControlTypeGeneratePasswordResponse, decodeGeneratePasswordResponseControl,
		WithJSONDecoder(decodeGeneratePasswordResponseControlJSON))
	r.Register(ControlTypeOverrideSearchLimits, decodeOverrideSearchLimitsControl,
		WithJSONDecoder(decodeOverrideSearchLimitsControlJSON))
	r.Register(ControlTypeSubtreeDelete, decodeSubtreeDeleteControl,
		WithJSONDecoder(decodeSubtreeDeleteControlJSON))
	r.Register(ControlTypeRealAttributesOnly, decodeRealAttributesOnlyControl,
		WithJSONDecoder(decodeRealAttributesOnlyControlJSON))
	r.Register(ControlTypeNameWithEntryUUID, decodeNameWithEntryUUIDControl,
		WithJSONDecoder(decodeNameWithEntryUUIDControlJSON))
	r.Register(ControlTypeSubentries, decodeSubentriesControl,
		WithJSONDecoder(decodeSubentriesControlJSON))
	r.Register(ControlTypePasswordExpiring, decodePasswordExpiringControl,
		WithJSONDecoder(decodePasswordExpiringControlJSON))
	r.Register(ControlTypeJSONFormattedRequest, decodeJSONFormattedRequestControl,
		WithJSONDecoder(decodeJSONFormattedRequestControlJSON))
	r.Register(ControlTypeJSONFormattedResponse, decodeJSONFormattedResponseControl,
		WithJSONDecoder(decodeJSONFormattedResponseControlJSON))
}
