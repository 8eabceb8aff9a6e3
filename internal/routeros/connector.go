package routeros

import (
	"context"
	"strconv"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/nimda/radsync/internal/model"
)

// Runner scopes router API access to a callback so sessions can never
// leak past the operation that opened them.
type Runner interface {
	WithRouter(ctx context.Context, router *model.Router, fn func(API) error) error
}

// Connector dials, authenticates, and closes a session around each call.
type Connector struct {
	DefaultPort int
	Timeout     time.Duration
}

// NewConnector builds a Connector with the given fallbacks for routers
// that do not override them.
func NewConnector(defaultPort int, timeout time.Duration) *Connector {
	return &Connector{DefaultPort: defaultPort, Timeout: timeout}
}

// WithRouter opens an authenticated session against the router, hands the
// API to fn, and closes the session when fn returns.
func (c *Connector) WithRouter(ctx context.Context, router *model.Router, fn func(API) error) error {
	port := router.APIPort
	if port == 0 {
		port = c.DefaultPort
	}
	target := router.Host + ":" + strconv.Itoa(port)

	zlog.Debug().
		Str("router", router.Name).
		Str("target", target).
		Msg("Connecting to router API")

	sess, err := Dial(ctx, router.Host, port, c.Timeout)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Login(router.Username, router.Password); err != nil {
		return err
	}

	return fn(NewClient(sess))
}

var _ Runner = (*Connector)(nil)
