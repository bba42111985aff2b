package tor

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Control protocol constants.
// The control port speaks a line-oriented text protocol with SMTP-style
// status codes. We implement only the commands the scraper needs:
// PROTOCOLINFO, AUTHENTICATE (all four methods), SIGNAL NEWNYM, and GETINFO.
const (
	// controlTimeout bounds a whole control session (dial + handshake + command).
	// Control commands are local and answer in milliseconds; anything slower
	// means the daemon is wedged.
	controlTimeout = 5 * time.Second

	// defaultRenewalInterval is the minimum gap we enforce between NEWNYM
	// signals. Tor itself rate-limits NEWNYM to roughly one per 10 seconds
	// and silently coalesces faster requests, so asking more often only
	// creates the illusion of a fresh exit.
	defaultRenewalInterval = 10 * time.Second

	// controlStatusOK is the status code for a successful control command.
	controlStatusOK = "250"

	// SAFECOOKIE HMAC keys as fixed by the control protocol.
	safeCookieServerKey = "Tor safe cookie authentication server-to-controller hash"
	safeCookieClientKey = "Tor safe cookie authentication controller-to-server hash"

	// safeCookieNonceLen is the client nonce length for AUTHCHALLENGE.
	safeCookieNonceLen = 32

	// cookieLen is the size of Tor's control auth cookie file.
	cookieLen = 32
)

// Controller manages a Tor daemon through its control port.
// Its main job for the scraper is identity renewal: SIGNAL NEWNYM makes Tor
// build fresh circuits so subsequent requests leave through a different exit,
// which is how we recover from per-IP blocks on the target site.
//
// Design decision: Each operation dials a fresh control connection instead of
// holding one open, because:
// 1. Renewals happen seconds to minutes apart, so connection reuse buys nothing
// 2. A dropped persistent connection would need reconnect-and-reauth logic anyway
// 3. Short-lived sessions keep the authenticated surface small
type Controller struct {
	// mu serializes renewals and guards the renewal bookkeeping below.
	mu sync.Mutex

	// address is the control port address in "host:port" format.
	address string

	// password authenticates via HASHEDPASSWORD when set.
	password string

	// cookiePath overrides the cookie file location reported by PROTOCOLINFO.
	cookiePath string

	// timeout bounds each control session.
	timeout time.Duration

	// minInterval is the minimum gap between identity renewals.
	minInterval time.Duration

	// lastRenewal is when the previous NEWNYM was accepted.
	lastRenewal time.Time

	// renewals counts accepted NEWNYM signals.
	renewals int
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControlPassword sets the password for HASHEDPASSWORD authentication.
func WithControlPassword(password string) ControllerOption {
	return func(c *Controller) {
		c.password = password
	}
}

// WithControlCookie sets an explicit auth cookie file path.
// Without this the path reported by PROTOCOLINFO is used, which is correct
// when the scraper and the daemon share a filesystem.
func WithControlCookie(path string) ControllerOption {
	return func(c *Controller) {
		c.cookiePath = path
	}
}

// WithRenewalInterval sets the minimum gap between identity renewals.
// Values <= 0 keep the default.
func WithRenewalInterval(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.minInterval = d
		}
	}
}

// WithControlTimeout sets the per-session timeout.
// Values <= 0 keep the default.
func WithControlTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewController creates a controller for the Tor control port at the given
// address (e.g., "127.0.0.1:9051").
//
// Like NewClient, this validates the address format but does not connect.
// The first operation performs the dial and authentication handshake.
func NewController(address string, opts ...ControllerOption) (*Controller, error) {
	if !isValidProxyAddress(address) {
		return nil, ErrInvalidProxyAddress
	}

	c := &Controller{
		address:     address,
		timeout:     controlTimeout,
		minInterval: defaultRenewalInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Address returns the configured control port address.
func (c *Controller) Address() string {
	return c.address
}

// Renewals returns the number of accepted identity renewals.
func (c *Controller) Renewals() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewals
}

// LastRenewal returns when the previous renewal was accepted,
// or the zero time if none happened yet.
func (c *Controller) LastRenewal() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRenewal
}

// RenewIdentity asks Tor for a fresh identity via SIGNAL NEWNYM.
//
// Renewals closer together than the configured minimum interval return
// ErrRenewalThrottled without touching the control port. Callers that renew
// on rate-limit responses should treat that error as "keep waiting", not as
// a failure.
func (c *Controller) RenewIdentity(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastRenewal.IsZero() {
		if wait := c.minInterval - time.Since(c.lastRenewal); wait > 0 {
			return fmt.Errorf("%w: retry in %s", ErrRenewalThrottled, wait.Round(time.Millisecond))
		}
	}

	session, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer session.close()

	status, _, err := session.sendCommand("SIGNAL NEWNYM")
	if err != nil {
		return fmt.Errorf("failed to send NEWNYM signal: %w", err)
	}
	if status != controlStatusOK {
		return fmt.Errorf("%w: SIGNAL NEWNYM returned %s", ErrControlResponse, status)
	}

	c.lastRenewal = time.Now()
	c.renewals++
	return nil
}

// CircuitEstablished reports whether Tor has built a usable circuit.
// Fetching before this returns true just burns the request on a daemon
// that is still bootstrapping.
func (c *Controller) CircuitEstablished(ctx context.Context) (bool, error) {
	session, err := c.open(ctx)
	if err != nil {
		return false, err
	}
	defer session.close()

	status, lines, err := session.sendCommand("GETINFO status/circuit-established")
	if err != nil {
		return false, fmt.Errorf("failed to query circuit status: %w", err)
	}
	if status != controlStatusOK {
		return false, fmt.Errorf("%w: GETINFO returned %s", ErrControlResponse, status)
	}

	for _, line := range lines {
		if value, ok := strings.CutPrefix(line, "status/circuit-established="); ok {
			return strings.TrimSpace(value) == "1", nil
		}
	}
	return false, fmt.Errorf("%w: missing circuit-established value", ErrControlResponse)
}

// CheckConnection verifies the control port is reachable and that
// authentication succeeds. It performs a full handshake and disconnects.
func (c *Controller) CheckConnection(ctx context.Context) error {
	session, err := c.open(ctx)
	if err != nil {
		return err
	}
	session.close()
	return nil
}

// controlSession is a single authenticated control port connection.
type controlSession struct {
	conn   net.Conn
	reader *bufio.Reader
}

// open dials the control port and runs the authentication handshake.
func (c *Controller) open(ctx context.Context) (*controlSession, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control port %s: %w", c.address, err)
	}

	// One deadline for the whole session. Control commands are local;
	// if they don't answer within the timeout the daemon is stuck.
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set control deadline: %w", err)
	}

	session := &controlSession{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}

	if err := c.authenticate(session); err != nil {
		conn.Close()
		return nil, err
	}
	return session, nil
}

// close sends a best-effort QUIT and closes the connection.
func (s *controlSession) close() {
	_, _ = s.conn.Write([]byte("QUIT\r\n"))
	_ = s.conn.Close()
}

// sendCommand writes one command and reads the full reply.
// It returns the final status code and the text of every reply line.
//
// Reply format: each line is "<code><sep><text>" where sep is '-' for
// intermediate lines, '+' for data lines (terminated by a lone "."), and
// ' ' for the final line.
func (s *controlSession) sendCommand(cmd string) (status string, lines []string, err error) {
	if _, err := s.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return "", nil, fmt.Errorf("failed to write control command: %w", err)
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return "", nil, fmt.Errorf("failed to read control reply: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 4 {
			return "", nil, fmt.Errorf("%w: short reply line %q", ErrControlResponse, line)
		}

		status = line[:3]
		sep := line[3]
		lines = append(lines, line[4:])

		switch sep {
		case ' ':
			return status, lines, nil
		case '-':
			continue
		case '+':
			// Consume the data block up to its "." terminator.
			for {
				dataLine, err := s.reader.ReadString('\n')
				if err != nil {
					return "", nil, fmt.Errorf("failed to read control data: %w", err)
				}
				if strings.TrimRight(dataLine, "\r\n") == "." {
					break
				}
			}
		default:
			return "", nil, fmt.Errorf("%w: malformed reply line %q", ErrControlResponse, line)
		}
	}
}

// authenticate runs PROTOCOLINFO and the strongest AUTHENTICATE variant
// both sides support.
//
// Preference order:
// 1. HASHEDPASSWORD when a password is configured
// 2. SAFECOOKIE when a cookie file is available (never sends the cookie bytes)
// 3. COOKIE as a fallback for old daemons without SAFECOOKIE
// 4. NULL when the daemon requires no authentication
func (c *Controller) authenticate(s *controlSession) error {
	status, lines, err := s.sendCommand("PROTOCOLINFO 1")
	if err != nil {
		return err
	}
	if status != controlStatusOK {
		return fmt.Errorf("%w: PROTOCOLINFO returned %s", ErrControlResponse, status)
	}

	methods, cookieFile := parseProtocolInfo(lines)
	if c.cookiePath != "" {
		cookieFile = c.cookiePath
	}

	switch {
	case c.password != "" && methods["HASHEDPASSWORD"]:
		return c.sendAuthenticate(s, quotePassword(c.password))

	case cookieFile != "" && methods["SAFECOOKIE"]:
		return c.safeCookieAuth(s, cookieFile)

	case cookieFile != "" && methods["COOKIE"]:
		cookie, err := readControlCookie(cookieFile)
		if err != nil {
			return err
		}
		return c.sendAuthenticate(s, hex.EncodeToString(cookie))

	case methods["NULL"]:
		return c.sendAuthenticate(s, "")

	default:
		return fmt.Errorf("%w: daemon offers %s", ErrControlAuthUnsupported, strings.Join(methodNames(methods), ","))
	}
}

// sendAuthenticate issues AUTHENTICATE with the given (already encoded)
// argument and maps rejections to ErrControlAuthFailed.
func (c *Controller) sendAuthenticate(s *controlSession, arg string) error {
	cmd := "AUTHENTICATE"
	if arg != "" {
		cmd += " " + arg
	}

	status, lines, err := s.sendCommand(cmd)
	if err != nil {
		return err
	}
	if status != controlStatusOK {
		detail := ""
		if len(lines) > 0 {
			detail = ": " + lines[len(lines)-1]
		}
		return fmt.Errorf("%w (%s)%s", ErrControlAuthFailed, status, detail)
	}
	return nil
}

// safeCookieAuth performs the SAFECOOKIE challenge-response handshake.
// Unlike plain COOKIE auth it never transmits the cookie itself, and it
// verifies the server hash so a fake control port cannot bluff its way
// through with an empty reply.
func (c *Controller) safeCookieAuth(s *controlSession, cookieFile string) error {
	cookie, err := readControlCookie(cookieFile)
	if err != nil {
		return err
	}

	clientNonce := make([]byte, safeCookieNonceLen)
	if _, err := rand.Read(clientNonce); err != nil {
		return fmt.Errorf("failed to generate client nonce: %w", err)
	}

	status, lines, err := s.sendCommand("AUTHCHALLENGE SAFECOOKIE " + hex.EncodeToString(clientNonce))
	if err != nil {
		return err
	}
	if status != controlStatusOK || len(lines) == 0 {
		return fmt.Errorf("%w: AUTHCHALLENGE returned %s", ErrControlAuthFailed, status)
	}

	serverHash, serverNonce, err := parseAuthChallenge(lines[0])
	if err != nil {
		return err
	}

	// Both hashes cover cookie || clientNonce || serverNonce.
	material := make([]byte, 0, len(cookie)+len(clientNonce)+len(serverNonce))
	material = append(material, cookie...)
	material = append(material, clientNonce...)
	material = append(material, serverNonce...)

	expected := hmac.New(sha256.New, []byte(safeCookieServerKey))
	expected.Write(material)
	if !hmac.Equal(serverHash, expected.Sum(nil)) {
		return fmt.Errorf("%w: server hash mismatch", ErrControlAuthFailed)
	}

	clientHash := hmac.New(sha256.New, []byte(safeCookieClientKey))
	clientHash.Write(material)
	return c.sendAuthenticate(s, hex.EncodeToString(clientHash.Sum(nil)))
}

// parseProtocolInfo extracts the offered auth methods and cookie file path
// from PROTOCOLINFO reply lines.
//
// The AUTH line looks like:
//
//	AUTH METHODS=COOKIE,SAFECOOKIE COOKIEFILE="/run/tor/control.authcookie"
func parseProtocolInfo(lines []string) (methods map[string]bool, cookieFile string) {
	methods = make(map[string]bool)
	for _, line := range lines {
		rest, ok := strings.CutPrefix(line, "AUTH ")
		if !ok {
			continue
		}

		for _, field := range splitAuthFields(rest) {
			if value, ok := strings.CutPrefix(field, "METHODS="); ok {
				for _, m := range strings.Split(value, ",") {
					methods[strings.ToUpper(strings.TrimSpace(m))] = true
				}
			}
			if value, ok := strings.CutPrefix(field, "COOKIEFILE="); ok {
				if unquoted, err := strconv.Unquote(value); err == nil {
					cookieFile = unquoted
				}
			}
		}
	}
	return methods, cookieFile
}

// splitAuthFields splits an AUTH line on spaces while keeping quoted
// values (the cookie path may contain spaces) intact.
func splitAuthFields(s string) []string {
	var fields []string
	var current strings.Builder
	inQuotes := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteByte(ch)
		case ch == '\\' && inQuotes && i+1 < len(s):
			current.WriteByte(ch)
			i++
			current.WriteByte(s[i])
		case ch == ' ' && !inQuotes:
			if current.Len() > 0 {
				fields = append(fields, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(ch)
		}
	}
	if current.Len() > 0 {
		fields = append(fields, current.String())
	}
	return fields
}

// parseAuthChallenge extracts the server hash and nonce from an
// AUTHCHALLENGE reply line:
//
//	AUTHCHALLENGE SERVERHASH=<hex> SERVERNONCE=<hex>
func parseAuthChallenge(line string) (serverHash, serverNonce []byte, err error) {
	for _, field := range strings.Fields(line) {
		if value, ok := strings.CutPrefix(field, "SERVERHASH="); ok {
			serverHash, err = hex.DecodeString(value)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: bad server hash: %v", ErrControlAuthFailed, err)
			}
		}
		if value, ok := strings.CutPrefix(field, "SERVERNONCE="); ok {
			serverNonce, err = hex.DecodeString(value)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: bad server nonce: %v", ErrControlAuthFailed, err)
			}
		}
	}
	if len(serverHash) == 0 || len(serverNonce) == 0 {
		return nil, nil, fmt.Errorf("%w: incomplete AUTHCHALLENGE reply", ErrControlAuthFailed)
	}
	return serverHash, serverNonce, nil
}

// readControlCookie reads and validates Tor's control auth cookie file.
func readControlCookie(path string) ([]byte, error) {
	cookie, err := os.ReadFile(path) //nolint:gosec // path comes from PROTOCOLINFO or operator config
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read cookie file: %v", ErrControlAuthFailed, err)
	}
	if len(cookie) != cookieLen {
		return nil, fmt.Errorf("%w: cookie file has %d bytes, expected %d", ErrControlAuthFailed, len(cookie), cookieLen)
	}
	return cookie, nil
}

// quotePassword wraps a password in the control protocol's QuotedString
// form, which escapes only backslash and double-quote.
func quotePassword(password string) string {
	escaped := strings.ReplaceAll(password, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// methodNames returns the offered method names for error messages.
func methodNames(methods map[string]bool) []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	return names
}
