package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/storeledger/lifecycle"
)

type light string

const (
	red    light = "RED"
	green  light = "GREEN"
	yellow light = "YELLOW"
	off    light = "OFF"
)

func trafficLight() *lifecycle.Machine[light] {
	return lifecycle.New("light",
		lifecycle.Edge[light]{From: red, To: green},
		lifecycle.Edge[light]{From: green, To: yellow},
		lifecycle.Edge[light]{From: yellow, To: red},
		lifecycle.Edge[light]{From: red, To: off},
	)
}

func TestMachine_AllowedEdges(t *testing.T) {
	m := trafficLight()

	assert.True(t, m.Allowed(red, green))
	assert.True(t, m.Allowed(yellow, red))
	assert.False(t, m.Allowed(green, red))
	assert.False(t, m.Allowed(off, red))
}

func TestMachine_Terminal(t *testing.T) {
	m := trafficLight()

	assert.True(t, m.Terminal(off))
	assert.False(t, m.Terminal(red))
}

func TestMachine_CheckRejectsUnknownMove(t *testing.T) {
	m := trafficLight()

	require.NoError(t, m.Check("l-1", red, green))

	err := m.Check("l-1", green, off)
	require.Error(t, err)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	var te *lifecycle.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "l-1", te.ID)
	assert.Equal(t, "GREEN", te.From)
	assert.Equal(t, "OFF", te.To)
	assert.Contains(t, err.Error(), "cannot move from GREEN to OFF")
}
