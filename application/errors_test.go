package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBridgeError(t *testing.T) {
	cause := fmt.Errorf("tx failure")
	err := newBridgeError(ErrConfiguration, "set IR", cause)

	assert.Equal(t, "set IR: configuration error: tx failure", err.Error())
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, cause)
	assert.False(t, errors.Is(err, ErrConnection))

	assert.Equal(t, "open: connection error", newBridgeError(ErrConnection, "open", nil).Error())
}

func TestBridgeError_Wrapped(t *testing.T) {
	inner := newBridgeError(ErrConnection, "open", ErrDeviceBusy)
	err := newBridgeError(ErrReload, "reload", inner)

	assert.ErrorIs(t, err, ErrReload)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, ErrDeviceBusy)

	var be *BridgeError
	assert.True(t, errors.As(fmt.Errorf("start: %w", err), &be))
	assert.Equal(t, ErrReload, be.Kind)
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(newBridgeError(ErrParse, "parse", nil)))
	assert.False(t, IsFatal(newBridgeError(ErrPublish, "publish", nil)))

	assert.True(t, IsFatal(newBridgeError(ErrConnection, "open", nil)))
	assert.True(t, IsFatal(newBridgeError(ErrConfiguration, "configure", nil)))
	assert.True(t, IsFatal(newBridgeError(ErrReload, "reload", nil)))
	assert.True(t, IsFatal(fmt.Errorf("unexpected")))
}
