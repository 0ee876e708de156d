package cldap

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// ldapClient is the connection surface handed out when following a
// referral.  It is go-ldap's client interface, so a returned connection can
// service any follow-up operation the referral requires.
type ldapClient = ldap.Client

// DefaultMaxDialTime is the default cap on the total time (including
// retries) a pooled referral connector spends establishing a connection to
// a single referral target.
const DefaultMaxDialTime = 30 * time.Second

// ReferralConnector establishes a connection for following a referral.  The
// caller owns the returned connection and must close it when done.
type ReferralConnector interface {
	// GetReferralConnection returns a connection to the server named by the
	// referral URL.  Only the scheme, host and port of the URL are used.
	GetReferralConnection(referralURL string) (ldap.Client, error)
}

// ReusableReferralConnector hands out connections that may be shared across
// referral attempts to the same server.  The caller must NOT close a
// returned connection; the connector owns its lifecycle.
type ReusableReferralConnector interface {
	// GetReusableReferralConnection returns a connection to the server
	// named by the referral URL, possibly one handed out before.  The
	// returned connection remains the connector's to close.
	GetReusableReferralConnection(referralURL string) (ldap.Client, error)
}

// PooledReferralConnector follows referrals with a per-target connection
// pool.  It implements both ReferralConnector and
// ReusableReferralConnector: the former always dials fresh and transfers
// ownership to the caller, the latter reuses one connection per target
// which the connector closes on Shutdown.
type PooledReferralConnector struct {
	mu          sync.Mutex
	pool        map[string]ldap.Client
	closed      bool
	logger      hclog.Logger
	dialer      func(url string) (ldapClient, error)
	maxDialTime time.Duration
}

// NewPooledReferralConnector creates a pooled referral connector.
// Supported options: WithLogger, WithMaxDialTime.
func NewPooledReferralConnector(opt ...Option) *PooledReferralConnector {
	opts := getReferralOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	dialer := opts.withDialer
	if dialer == nil {
		dialer = func(u string) (ldapClient, error) {
			return ldap.DialURL(u)
		}
	}
	return &PooledReferralConnector{
		pool:        map[string]ldap.Client{},
		logger:      logger,
		dialer:      dialer,
		maxDialTime: opts.withMaxDialTime,
	}
}

// GetReferralConnection dials a new connection to the referral target.  The
// caller owns the returned connection.
func (c *PooledReferralConnector) GetReferralConnection(referralURL string) (ldap.Client, error) {
	const op = "cldap.(PooledReferralConnector).GetReferralConnection"
	target, err := referralTarget(referralURL, op)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: connector has been shut down: %w", op, ErrConnection)
	}
	c.mu.Unlock()
	return c.dial(target, op)
}

// GetReusableReferralConnection returns the pooled connection for the
// referral target, dialing one on first use.  The connector retains
// ownership; the caller must not close the returned connection.
func (c *PooledReferralConnector) GetReusableReferralConnection(referralURL string) (ldap.Client, error) {
	const op = "cldap.(PooledReferralConnector).GetReusableReferralConnection"
	target, err := referralTarget(referralURL, op)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%s: connector has been shut down: %w", op, ErrConnection)
	}
	if conn, ok := c.pool[target]; ok {
		c.logger.Debug("reusing pooled referral connection", "target", target)
		return conn, nil
	}
	conn, err := c.dial(target, op)
	if err != nil {
		return nil, err
	}
	c.pool[target] = conn
	return conn, nil
}

// Shutdown closes every pooled connection.  The connector cannot be used
// afterwards.
func (c *PooledReferralConnector) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for target, conn := range c.pool {
		if err := conn.Close(); err != nil {
			c.logger.Warn("error closing pooled referral connection", "target", target, "error", err)
		}
	}
	c.pool = nil
}

func (c *PooledReferralConnector) dial(target, op string) (ldap.Client, error) {
	var conn ldap.Client
	dial := func() error {
		var err error
		conn, err = c.dialer(target)
		if err != nil {
			c.logger.Debug("referral dial attempt failed", "target", target, "error", err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxDialTime
	if err := backoff.Retry(dial, bo); err != nil {
		return nil, fmt.Errorf("%s: failed to connect to %q: %s: %w", op, target, err.Error(), ErrConnection)
	}
	c.logger.Debug("established referral connection", "target", target)
	return conn, nil
}

// referralTarget extracts the scheme, host and port from a referral URL.
// Any DN or search parts of the URL are intentionally discarded; the
// connector only establishes the connection.
func referralTarget(referralURL, op string) (string, error) {
	if referralURL == "" {
		return "", fmt.Errorf("%s: missing referral URL: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(referralURL)
	if err != nil {
		return "", fmt.Errorf("%s: invalid referral URL %q: %s: %w", op, referralURL, err.Error(), ErrInvalidParameter)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "ldap", "ldaps", "ldapi":
	default:
		return "", fmt.Errorf("%s: unsupported referral URL scheme %q: %w", op, u.Scheme, ErrInvalidParameter)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%s: referral URL %q has no host: %w", op, referralURL, ErrInvalidParameter)
	}
	return scheme + "://" + strings.ToLower(u.Host), nil
}
