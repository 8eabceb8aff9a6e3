// Package testutil provides shared test doubles for components that talk
// to routers.
package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nimda/radsync/internal/model"
	"github.com/nimda/radsync/internal/routeros"
)

// MockAPI is a testify mock of routeros.API.
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) GetRows(menu routeros.Menu, filter map[string]string) ([]routeros.Row, error) {
	args := m.Called(menu, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]routeros.Row), args.Error(1)
}

func (m *MockAPI) AddRows(menu routeros.Menu, rows []routeros.Row) (routeros.AddResult, error) {
	args := m.Called(menu, rows)
	return args.Get(0).(routeros.AddResult), args.Error(1)
}

func (m *MockAPI) EditRow(menu routeros.Menu, existing routeros.Row, changes map[string]string) error {
	args := m.Called(menu, existing, changes)
	return args.Error(0)
}

func (m *MockAPI) RemoveRows(menu routeros.Menu, rows []routeros.Row) error {
	args := m.Called(menu, rows)
	return args.Error(0)
}

func (m *MockAPI) Command(path string, params map[string]string) ([]routeros.Row, error) {
	args := m.Called(path, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]routeros.Row), args.Error(1)
}

var _ routeros.API = (*MockAPI)(nil)

// StubRunner satisfies routeros.Runner by handing a fixed API to every
// callback, or failing outright with DialErr.
type StubRunner struct {
	API      routeros.API
	DialErr  error
	Sessions int // number of WithRouter invocations
}

func (s *StubRunner) WithRouter(ctx context.Context, router *model.Router, fn func(routeros.API) error) error {
	s.Sessions++
	if s.DialErr != nil {
		return s.DialErr
	}
	return fn(s.API)
}

var _ routeros.Runner = (*StubRunner)(nil)

// Router returns a router fixture with a NAS mapping, defaulting to
// RADIUS-primary authentication.
func Router(name, host string) *model.Router {
	return &model.Router{
		ID:          1,
		Name:        name,
		Host:        host,
		APIPort:     8728,
		Username:    "admin",
		Password:    "secret",
		PrimaryAuth: model.AuthRadius,
		NAS: &model.NAS{
			ID:     1,
			Name:   name,
			Server: "10.0.0.5",
			Secret: "radius-secret",
		},
	}
}
