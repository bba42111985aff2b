package tor

import "errors"

// Tor connectivity errors.
// These errors are returned when there are problems connecting to or through Tor.
//
// Design decision: We define specific error types rather than wrapping all errors
// generically. This allows callers to handle different failure modes appropriately
// (e.g., retry on timeout, but fail fast on wrong proxy type).
var (
	// ErrProxyNotTor is returned when the configured proxy does not behave
	// like a Tor SOCKS5 proxy (e.g., it's an HTTP proxy or some other service).
	ErrProxyNotTor = errors.New("proxy is not a Tor SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when we cannot establish a TCP
	// connection to the proxy address at all.
	ErrProxyCannotConnect = errors.New("cannot connect to proxy")

	// ErrProxyTimeout is returned when the proxy connection attempt times out.
	ErrProxyTimeout = errors.New("proxy connection timeout")

	// ErrInvalidProxyAddress is returned when the proxy address is malformed.
	ErrInvalidProxyAddress = errors.New("invalid proxy address")
)

// Control port errors.
// These errors are returned by the Controller when talking to Tor's control
// port (identity renewal, circuit status queries).
var (
	// ErrControlAuthFailed is returned when the control port rejects our
	// authentication attempt (wrong password, unreadable cookie file, or a
	// SAFECOOKIE handshake that does not verify).
	ErrControlAuthFailed = errors.New("control port authentication failed")

	// ErrControlAuthUnsupported is returned when the control port offers no
	// authentication method we know how to perform.
	ErrControlAuthUnsupported = errors.New("no supported control port authentication method")

	// ErrControlResponse is returned when the control port replies with an
	// error status or a reply we cannot parse.
	ErrControlResponse = errors.New("unexpected control port response")

	// ErrRenewalThrottled is returned when an identity renewal is requested
	// before the minimum interval since the previous renewal has elapsed.
	// Tor rate-limits NEWNYM internally; asking faster just burns circuits.
	ErrRenewalThrottled = errors.New("identity renewal requested too soon")
)

// ProxyStatus represents the result of checking the SOCKS5 proxy connection.
type ProxyStatus int

const (
	// ProxyStatusOK means the proxy is reachable and behaves like a Tor SOCKS5 proxy.
	ProxyStatusOK ProxyStatus = iota
	// ProxyStatusWrongType means something is listening but it's not a SOCKS5 proxy
	// (or it requires authentication, which Tor's default configuration doesn't).
	ProxyStatusWrongType
	// ProxyStatusCannotConnect means nothing is listening at the proxy address.
	ProxyStatusCannotConnect
	// ProxyStatusTimeout means the connection attempt timed out.
	ProxyStatusTimeout
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not Tor)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the error corresponding to this status, or nil for ProxyStatusOK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotTor
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
