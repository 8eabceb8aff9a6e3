package routeros

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(NewConnectionError("10.0.0.1:8728", errors.New("dial refused"))))
	assert.True(t, IsConnectionError(errors.New("write tcp: broken pipe")))
	assert.True(t, IsConnectionError(errors.New("read tcp: i/o timeout")))
	assert.True(t, IsConnectionError(fmt.Errorf("run failed: %w",
		NewConnectionError("10.0.0.1:8728", errors.New("EOF")))))

	assert.False(t, IsConnectionError(nil))
	assert.False(t, IsConnectionError(&DeviceError{Message: "no such item"}))
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, IsNotFoundError(&DeviceError{Message: "no such item"}))
	assert.True(t, IsNotFoundError(&DeviceError{Message: "no such item (4)", Category: "1"}))
	assert.True(t, IsNotFoundError(errors.New("entry not found")))

	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsNotFoundError(&DeviceError{Message: "already have such address"}))
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.True(t, IsAlreadyExistsError(&DeviceError{Message: "failure: already have such address"}))
	assert.True(t, IsAlreadyExistsError(&DeviceError{Message: "secret with this name already exists"}))
	assert.False(t, IsAlreadyExistsError(&DeviceError{Message: "no such item"}))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("socket closed")
	err := NewConnectionError("router:8728", inner)
	assert.ErrorIs(t, err, inner)

	authInner := &DeviceError{Message: "invalid user name or password (6)"}
	authErr := NewAuthenticationError("router:8728", "admin", authInner)
	var devErr *DeviceError
	assert.ErrorAs(t, authErr, &devErr)
}
