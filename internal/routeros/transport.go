package routeros

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// DefaultPort is the default RouterOS API port.
const DefaultPort = 8728

// DefaultTimeout bounds every connect and command round-trip unless the
// caller configures otherwise.
const DefaultTimeout = 30 * time.Second

// Row is one RouterOS API record as a key->string mapping. Once a row
// exists on the router it carries the router-assigned ".id".
type Row map[string]string

// ID returns the router-assigned identifier, empty for rows not yet created.
func (r Row) ID() string {
	return r[".id"]
}

// Session is one authenticated API connection to a router. The protocol is
// strictly request/response per connection, so a mutex serializes command
// round-trips; independent routers get independent sessions.
type Session struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	target  string
	timeout time.Duration
	dead    bool
}

// Dial opens a TCP connection to the router API. Exactly one connection per
// call; the session is not pooled, callers own the connect/close scoping.
func Dial(ctx context.Context, host string, port int, timeout time.Duration) (*Session, error) {
	if port <= 0 {
		port = DefaultPort
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	target := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, NewConnectionError(target, err)
	}

	return &Session{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		target:  target,
		timeout: timeout,
	}, nil
}

// Target returns the host:port this session is connected to.
func (s *Session) Target() string {
	return s.target
}

// Close tears the connection down. Safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.dead = true
	return err
}

// Login authenticates the session. RouterOS 6.43+ accepts the password in
// the initial /login sentence; older routers reply with a =ret= hex
// challenge that must be answered with an MD5 response.
func (s *Session) Login(username, password string) error {
	_, done, err := s.run("/login", "=name="+username, "=password="+password)
	if err != nil {
		if devErr, ok := err.(*DeviceError); ok {
			return NewAuthenticationError(s.target, username, devErr)
		}
		return err
	}

	challenge, ok := done["ret"]
	if !ok {
		return nil // post-6.43 plain login accepted
	}

	// Pre-6.43 challenge/response: md5(0x00 + password + challenge).
	chal, err := hex.DecodeString(challenge)
	if err != nil {
		return NewProtocolError(s.target, "malformed login challenge: "+challenge)
	}
	sum := md5.New()
	sum.Write([]byte{0})
	sum.Write([]byte(password))
	sum.Write(chal)
	response := "00" + hex.EncodeToString(sum.Sum(nil))

	if _, _, err := s.run("/login", "=name="+username, "=response="+response); err != nil {
		if devErr, ok := err.(*DeviceError); ok {
			return NewAuthenticationError(s.target, username, devErr)
		}
		return err
	}
	return nil
}

// Run executes one command sentence and returns the !re rows. A !trap comes
// back as *DeviceError (session stays usable); transport or !fatal failures
// come back as *ConnectionError / *ProtocolError and kill the session.
func (s *Session) Run(words ...string) ([]Row, error) {
	rows, _, err := s.run(words...)
	return rows, err
}

func (s *Session) run(words ...string) ([]Row, Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.dead {
		return nil, nil, NewConnectionError(s.target, fmt.Errorf("session closed"))
	}

	encoded, err := encodeSentence(words)
	if err != nil {
		return nil, nil, err
	}

	if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		s.dead = true
		return nil, nil, NewConnectionError(s.target, err)
	}
	if _, err := s.conn.Write(encoded); err != nil {
		s.dead = true
		return nil, nil, NewConnectionError(s.target, err)
	}

	var rows []Row
	var done Row
	var trap *DeviceError
	for {
		sentence, err := readSentence(s.reader)
		if err != nil {
			// Timeout or mid-sentence failure leaves the stream in an
			// unknown state; the session must not be reused.
			s.dead = true
			return nil, nil, NewConnectionError(s.target, err)
		}
		if len(sentence) == 0 {
			s.dead = true
			return nil, nil, NewProtocolError(s.target, "empty reply sentence")
		}

		attrs := parseAttributes(sentence[1:])
		switch sentence[0] {
		case "!re":
			rows = append(rows, attrs)
		case "!done":
			done = attrs
			if trap != nil {
				return nil, done, trap
			}
			return rows, done, nil
		case "!trap":
			trap = &DeviceError{
				Message:  attrs["message"],
				Category: attrs["category"],
			}
			zlog.Debug().
				Str("target", s.target).
				Str("command", words[0]).
				Str("message", trap.Message).
				Msg("Router reported trap")
		case "!fatal":
			s.dead = true
			detail := "fatal reply"
			if len(sentence) > 1 {
				detail = strings.Join(sentence[1:], " ")
			}
			return nil, nil, NewProtocolError(s.target, detail)
		default:
			s.dead = true
			return nil, nil, NewProtocolError(s.target, "unexpected reply word "+sentence[0])
		}
	}
}

// parseAttributes maps reply words like "=name=alice" and "=.id=*1F" into a
// Row. Words without the attribute shape are ignored.
func parseAttributes(words []string) Row {
	row := make(Row, len(words))
	for _, word := range words {
		if !strings.HasPrefix(word, "=") {
			continue
		}
		rest := word[1:]
		idx := strings.Index(rest, "=")
		if idx < 0 {
			continue
		}
		row[rest[:idx]] = rest[idx+1:]
	}
	return row
}
