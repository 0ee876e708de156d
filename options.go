package cldap

import (
	"reflect"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// applyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func applyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil options
			continue
		}
		o(opts)
	}
}

func isNil(i interface{}) bool {
	if i == nil {
		return true
	}
	switch reflect.TypeOf(i).Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Slice, reflect.Func:
		return reflect.ValueOf(i).IsNil()
	}
	return false
}

type controlOptions struct {
	withCriticality *bool
	withValue       []byte
	withCookie      []byte
	withContextID   []byte
	withAttributes  []string
}

func controlDefaults() controlOptions {
	return controlOptions{}
}

func getControlOpts(opt ...Option) controlOptions {
	opts := controlDefaults()
	applyOpts(&opts, opt...)
	return opts
}

// WithCriticality specifies the criticality flag for a control.  Controls
// that don't get this option use their own default (false for most of the
// catalog, true for the virtual list view request).
func WithCriticality(criticality bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*controlOptions); ok {
			o.withCriticality = &criticality
		}
	}
}

// WithValue specifies an opaque value for a generic control.
func WithValue(value []byte) Option {
	return func(o interface{}) {
		if o, ok := o.(*controlOptions); ok {
			o.withValue = value
		}
	}
}

// WithCookie specifies the opaque paging cookie returned by the server on a
// previous page of results.
func WithCookie(cookie []byte) Option {
	return func(o interface{}) {
		if o, ok := o.(*controlOptions); ok {
			o.withCookie = cookie
		}
	}
}

// WithContextID specifies the opaque context ID a server returned for a
// previous search in a virtual list view sequence.
func WithContextID(contextID []byte) Option {
	return func(o interface{}) {
		if o, ok := o.(*controlOptions); ok {
			o.withContextID = contextID
		}
	}
}

// WithAttributes specifies the attributes a get effective rights request
// should ask about.
func WithAttributes(attributes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*controlOptions); ok {
			o.withAttributes = attributes
		}
	}
}

type registryOptions struct {
	withLogger      hclog.Logger
	withJSONDecoder JSONValueDecoder
	withRegistry    *Registry
}

func registryDefaults() registryOptions {
	return registryOptions{}
}

func getRegistryOpts(opt ...Option) registryOptions {
	opts := registryDefaults()
	applyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *registryOptions:
			v.withLogger = l
		case *referralOptions:
			v.withLogger = l
		}
	}
}

// WithJSONDecoder associates a JSON value decoder with a registration, so
// that JSON control objects with a value-json field can be decoded for the
// registered OID.
func WithJSONDecoder(d JSONValueDecoder) Option {
	return func(o interface{}) {
		if o, ok := o.(*registryOptions); ok {
			o.withJSONDecoder = d
		}
	}
}

// WithRegistry provides an optional registry to use instead of the
// process-wide default registry.
func WithRegistry(r *Registry) Option {
	return func(o interface{}) {
		if o, ok := o.(*registryOptions); ok {
			o.withRegistry = r
		}
	}
}

type referralOptions struct {
	withLogger      hclog.Logger
	withDialer      func(url string) (ldapClient, error)
	withMaxDialTime time.Duration
}

func referralDefaults() referralOptions {
	return referralOptions{
		withMaxDialTime: DefaultMaxDialTime,
	}
}

func getReferralOpts(opt ...Option) referralOptions {
	opts := referralDefaults()
	applyOpts(&opts, opt...)
	return opts
}

// WithMaxDialTime specifies the max elapsed time (including retries) a
// pooled referral connector will spend establishing a connection to a
// referral target before it gives up.
func WithMaxDialTime(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*referralOptions); ok {
			o.withMaxDialTime = d
		}
	}
}

func withDialer(d func(url string) (ldapClient, error)) Option {
	return func(o interface{}) {
		if o, ok := o.(*referralOptions); ok {
			o.withDialer = d
		}
	}
}
