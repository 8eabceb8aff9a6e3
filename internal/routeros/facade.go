package routeros

import (
	"errors"
	"fmt"
	"sort"

	zlog "github.com/rs/zerolog/log"
)

// API is the command surface every higher component uses to talk to a
// router. Nothing above this package builds raw protocol words.
type API interface {
	// GetRows runs a print query constrained by equality filters.
	GetRows(menu Menu, filter map[string]string) ([]Row, error)
	// AddRows adds each row individually; per-row failures are collected,
	// not fatal. The returned error is non-nil only for transport-level
	// failures that abort the batch.
	AddRows(menu Menu, rows []Row) (AddResult, error)
	// EditRow sets only the given changed fields on an existing row.
	EditRow(menu Menu, existing Row, changes map[string]string) error
	// RemoveRows removes the given rows by id. Already-absent rows count
	// as success.
	RemoveRows(menu Menu, rows []Row) error
	// Command runs a non-menu command path such as "/ppp/aaa/set".
	Command(path string, params map[string]string) ([]Row, error)
}

// RowError pairs a failed row with its error inside a partial-failure batch.
type RowError struct {
	Index int
	Row   Row
	Err   error
}

// AddResult reports the per-row outcome of an AddRows batch.
type AddResult struct {
	Total     int
	Succeeded int
	Failed    int
	Errors    []RowError
}

// OK reports whether every row was applied.
func (r AddResult) OK() bool {
	return r.Failed == 0
}

// Client implements API over one Session.
type Client struct {
	sess sentenceRunner
	name string // log label, usually host:port
}

// sentenceRunner is the slice of Session the facade needs; tests substitute
// a scripted fake.
type sentenceRunner interface {
	Run(words ...string) ([]Row, error)
}

// NewClient wraps an authenticated session.
func NewClient(sess *Session) *Client {
	return &Client{sess: sess, name: sess.Target()}
}

// GetRows issues "<menu>/print" with "?field=value" query words.
func (c *Client) GetRows(menu Menu, filter map[string]string) ([]Row, error) {
	words := []string{menu.Path() + "/print"}
	for _, key := range sortedKeys(filter) {
		words = append(words, "?"+key+"="+filter[key])
	}
	rows, err := c.sess.Run(words...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AddRows issues one "<menu>/add" per row. One bad row does not abort the
// batch; a dead connection does.
func (c *Client) AddRows(menu Menu, rows []Row) (AddResult, error) {
	result := AddResult{Total: len(rows)}

	for i, row := range rows {
		words, err := c.writeWords(menu, "/add", row)
		if err != nil {
			// Local validation failure, the connection is still healthy.
			result.Failed++
			result.Errors = append(result.Errors, RowError{Index: i, Row: row, Err: err})
			continue
		}
		if _, err = c.sess.Run(words...); err == nil {
			result.Succeeded++
			continue
		}

		var devErr *DeviceError
		if !errors.As(err, &devErr) {
			// Transport failure: nothing further can succeed this run.
			result.Failed = result.Total - result.Succeeded
			result.Errors = append(result.Errors, RowError{Index: i, Row: row, Err: err})
			return result, err
		}

		result.Failed++
		result.Errors = append(result.Errors, RowError{Index: i, Row: row, Err: err})
		zlog.Error().
			Str("router", c.name).
			Str("menu", menu.Path()).
			Int("row", i).
			Err(err).
			Msg("Failed to add row")
	}

	return result, nil
}

// EditRow issues "<menu>/set" against the row's id with only the changed
// fields.
func (c *Client) EditRow(menu Menu, existing Row, changes map[string]string) error {
	id := existing.ID()
	if id == "" {
		return fmt.Errorf("routeros: edit requires a row with .id")
	}
	if len(changes) == 0 {
		return nil
	}

	words := []string{menu.Path() + "/set", "=.id=" + id}
	for _, key := range sortedKeys(changes) {
		if !menu.Writable(key) {
			return fmt.Errorf("routeros: field %q not writable on %s", key, menu.Path())
		}
		words = append(words, "="+key+"="+changes[key])
	}

	if _, err := c.sess.Run(words...); err != nil {
		return err
	}
	return nil
}

// RemoveRows issues "<menu>/remove" per row id. "no such item" traps are
// treated as success so deletes stay idempotent.
func (c *Client) RemoveRows(menu Menu, rows []Row) error {
	for _, row := range rows {
		id := row.ID()
		if id == "" {
			continue // never created on the router
		}
		if _, err := c.sess.Run(menu.Path()+"/remove", "=.id="+id); err != nil {
			var devErr *DeviceError
			if errors.As(err, &devErr) && IsNotFoundError(devErr) {
				continue
			}
			return err
		}
	}
	return nil
}

// Command runs an arbitrary command path with "=key=value" parameters.
// Reserved for non-menu operations like /ppp/aaa/set or /ping.
func (c *Client) Command(path string, params map[string]string) ([]Row, error) {
	words := []string{path}
	for _, key := range sortedKeys(params) {
		words = append(words, "="+key+"="+params[key])
	}
	return c.sess.Run(words...)
}

func (c *Client) writeWords(menu Menu, verb string, row Row) ([]string, error) {
	words := []string{menu.Path() + verb}
	for _, key := range sortedKeys(row) {
		if key == ".id" {
			continue
		}
		if !menu.Writable(key) {
			return nil, fmt.Errorf("routeros: field %q not writable on %s", key, menu.Path())
		}
		words = append(words, "="+key+"="+row[key])
	}
	return words, nil
}

func sortedKeys[M ~map[string]string](m M) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var _ API = (*Client)(nil)
