package routeros

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRouter speaks the binary API on a loopback listener. The handler
// receives each request sentence and returns the reply sentences to send.
type fakeRouter struct {
	listener net.Listener
	handler  func(sentence []string) [][]string
}

func startFakeRouter(t *testing.T, handler func(sentence []string) [][]string) (string, int) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	fr := &fakeRouter{listener: listener, handler: handler}
	go fr.serve()

	addr := listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func (f *fakeRouter) serve() {
	conn, err := f.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		sentence, err := readSentence(reader)
		if err != nil {
			return
		}
		for _, reply := range f.handler(sentence) {
			encoded, err := encodeSentence(reply)
			if err != nil {
				return
			}
			if _, err := conn.Write(encoded); err != nil {
				return
			}
		}
	}
}

func alwaysDone(sentence []string) [][]string {
	return [][]string{{"!done"}}
}

func dialFake(t *testing.T, host string, port int) *Session {
	t.Helper()
	sess, err := Dial(context.Background(), host, port, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestDialRefused(t *testing.T) {
	// Grab a port that is guaranteed closed by binding then releasing it.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	_, err = Dial(context.Background(), "127.0.0.1", port, time.Second)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
}

func TestLoginPlain(t *testing.T) {
	var seen []string
	host, port := startFakeRouter(t, func(sentence []string) [][]string {
		seen = sentence
		return [][]string{{"!done"}}
	})

	sess := dialFake(t, host, port)
	require.NoError(t, sess.Login("admin", "secret"))

	assert.Equal(t, []string{"/login", "=name=admin", "=password=secret"}, seen)
}

func TestLoginChallenge(t *testing.T) {
	challenge := "0123456789abcdef0123456789abcdef"
	var response string
	host, port := startFakeRouter(t, func(sentence []string) [][]string {
		for _, word := range sentence {
			if strings.HasPrefix(word, "=response=") {
				response = strings.TrimPrefix(word, "=response=")
				return [][]string{{"!done"}}
			}
		}
		return [][]string{{"!done", "=ret=" + challenge}}
	})

	sess := dialFake(t, host, port)
	require.NoError(t, sess.Login("admin", "secret"))

	chal, _ := hex.DecodeString(challenge)
	sum := md5.New()
	sum.Write([]byte{0})
	sum.Write([]byte("secret"))
	sum.Write(chal)
	assert.Equal(t, "00"+hex.EncodeToString(sum.Sum(nil)), response)
}

func TestLoginRejected(t *testing.T) {
	host, port := startFakeRouter(t, func(sentence []string) [][]string {
		return [][]string{
			{"!trap", "=message=invalid user name or password (6)"},
			{"!done"},
		}
	})

	sess := dialFake(t, host, port)
	err := sess.Login("admin", "wrong")
	require.Error(t, err)

	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "admin", authErr.Username)
}

func TestRunParsesRows(t *testing.T) {
	host, port := startFakeRouter(t, func(sentence []string) [][]string {
		if sentence[0] == "/login" {
			return [][]string{{"!done"}}
		}
		return [][]string{
			{"!re", "=.id=*1", "=name=alice", "=profile=basic-10M"},
			{"!re", "=.id=*2", "=name=bob", "=profile=basic-10M"},
			{"!done"},
		}
	})

	sess := dialFake(t, host, port)
	require.NoError(t, sess.Login("admin", "secret"))

	rows, err := sess.Run("/ppp/secret/print")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "*1", rows[0].ID())
	assert.Equal(t, "alice", rows[0]["name"])
	assert.Equal(t, "bob", rows[1]["name"])
}

func TestRunTrapKeepsSessionUsable(t *testing.T) {
	calls := 0
	host, port := startFakeRouter(t, func(sentence []string) [][]string {
		calls++
		if calls == 1 {
			return [][]string{
				{"!trap", "=message=no such item", "=category=1"},
				{"!done"},
			}
		}
		return [][]string{{"!done"}}
	})

	sess := dialFake(t, host, port)

	_, err := sess.Run("/ppp/secret/remove", "=.id=*99")
	require.Error(t, err)

	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "no such item", devErr.Message)
	assert.True(t, IsNotFoundError(err))

	// A trap does not poison the connection.
	_, err = sess.Run("/ppp/secret/print")
	assert.NoError(t, err)
}

func TestRunFatalKillsSession(t *testing.T) {
	host, port := startFakeRouter(t, func(sentence []string) [][]string {
		return [][]string{{"!fatal", "session terminated"}}
	})

	sess := dialFake(t, host, port)

	_, err := sess.Run("/ppp/secret/print")
	require.Error(t, err)
	var protoErr *ProtocolError
	assert.ErrorAs(t, err, &protoErr)

	// Once dead, every further call fails without touching the wire.
	_, err = sess.Run("/ppp/secret/print")
	assert.True(t, IsConnectionError(err))
}

func TestRunAfterClose(t *testing.T) {
	host, port := startFakeRouter(t, alwaysDone)

	sess := dialFake(t, host, port)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close()) // idempotent

	_, err := sess.Run("/system/resource/print")
	assert.True(t, IsConnectionError(err))
}

func TestTargetFormat(t *testing.T) {
	host, port := startFakeRouter(t, alwaysDone)
	sess := dialFake(t, host, port)
	assert.Equal(t, net.JoinHostPort(host, strconv.Itoa(port)), sess.Target())
}
