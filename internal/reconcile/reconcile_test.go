package reconcile

import (
	"testing"

	"github.com/sharetube/watchsync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op   string
	arg  float64
	play bool
}

type fakePlayer struct {
	duration float64
	calls    []call
}

func (p *fakePlayer) SetPlaying(playing bool) { p.calls = append(p.calls, call{op: "play", play: playing}) }
func (p *fakePlayer) SeekTo(s float64)        { p.calls = append(p.calls, call{op: "seek", arg: s}) }
func (p *fakePlayer) Duration() float64       { return p.duration }

func (p *fakePlayer) take() []call {
	c := p.calls
	p.calls = nil
	return c
}

func TestWithinThreshold(t *testing.T) {
	assert.True(t, WithinThreshold(10, 10, DefaultThreshold))
	assert.True(t, WithinThreshold(10, 11.29, DefaultThreshold))
	assert.True(t, WithinThreshold(0, DefaultThreshold, DefaultThreshold))
	assert.False(t, WithinThreshold(10, 11.31, DefaultThreshold))
	assert.False(t, WithinThreshold(10, 9.99, DefaultThreshold))
}

func TestApplyCommandsPlayer(t *testing.T) {
	p := &fakePlayer{duration: 100}
	e := New(p, DefaultThreshold)

	e.Apply(protocol.PlayerState{Playing: true, Position: protocol.Float(20)})
	assert.Equal(t, []call{{op: "play", play: true}, {op: "seek", arg: 20}}, p.take())

	e.Apply(protocol.PlayerState{Playing: false})
	assert.Equal(t, []call{{op: "play", play: false}}, p.take())
}

func TestApplyClampsToDuration(t *testing.T) {
	p := &fakePlayer{duration: 60}
	e := New(p, DefaultThreshold)

	in := protocol.PlayerState{Playing: true, Position: protocol.Float(75)}
	e.Apply(in)

	assert.Equal(t, []call{{op: "play", play: true}, {op: "seek", arg: 60}}, p.take())
	assert.Equal(t, 75.0, *in.Position, "the caller's state is not modified")

	desired, ok := e.Desired()
	require.True(t, ok)
	assert.Equal(t, 60.0, *desired.Position)
}

func TestApplyUnknownDurationDoesNotClamp(t *testing.T) {
	p := &fakePlayer{}
	e := New(p, DefaultThreshold)

	e.Apply(protocol.PlayerState{Playing: true, Position: protocol.Float(75)})
	assert.Equal(t, []call{{op: "play", play: true}, {op: "seek", arg: 75}}, p.take())
}

func TestNoEcho(t *testing.T) {
	p := &fakePlayer{duration: 100}
	e := New(p, DefaultThreshold)

	e.Apply(protocol.PlayerState{Playing: true, Position: protocol.Float(50)})
	p.take()

	_, emit := e.Observe(Observed{Playing: true, Position: 50.4})
	assert.False(t, emit)
	_, pending := e.Desired()
	assert.False(t, pending)

	_, emit = e.Observe(Observed{Playing: true, Position: 51.4})
	assert.False(t, emit)
	assert.Empty(t, p.take())
}

func TestReissueUntilConverged(t *testing.T) {
	p := &fakePlayer{duration: 100}
	e := New(p, DefaultThreshold)

	e.Apply(protocol.PlayerState{Playing: false, Position: protocol.Float(30)})
	p.take()

	// still buffering at the old spot
	_, emit := e.Observe(Observed{Playing: true, Position: 5})
	assert.False(t, emit)
	assert.Equal(t, []call{{op: "play", play: false}, {op: "seek", arg: 30}}, p.take())

	_, emit = e.Observe(Observed{Playing: false, Position: 30})
	assert.False(t, emit)
	assert.Empty(t, p.take())

	_, pending := e.Desired()
	assert.False(t, pending)
}

func TestIdempotentAfterConvergence(t *testing.T) {
	p := &fakePlayer{duration: 100}
	e := New(p, DefaultThreshold)

	e.Apply(protocol.PlayerState{Playing: false, Position: protocol.Float(12)})
	for i := 0; i < 10; i++ {
		_, emit := e.Observe(Observed{Playing: false, Position: 12})
		assert.False(t, emit)
	}
}

func TestSeekDetection(t *testing.T) {
	tests := []struct {
		name string
		next float64
		emit bool
	}{
		{"natural progress", 11, false},
		{"just inside threshold", 10 + DefaultThreshold - 0.01, false},
		{"just outside threshold", 10 + DefaultThreshold + 0.01, true},
		{"backwards", 9.5, true},
		{"far forward", 120, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(&fakePlayer{duration: 200}, DefaultThreshold)
			e.Observe(Observed{Playing: true, Position: 9})
			e.Observe(Observed{Playing: true, Position: 10})

			state, emit := e.Observe(Observed{Playing: true, Position: tt.next})
			assert.Equal(t, tt.emit, emit)
			if tt.emit {
				assert.True(t, state.Playing)
				require.NotNil(t, state.Position)
				assert.Equal(t, tt.next, *state.Position)
			}
		})
	}
}

func TestToggleEmitsWithoutPosition(t *testing.T) {
	e := New(&fakePlayer{duration: 200}, DefaultThreshold)
	e.Observe(Observed{Playing: true, Position: 40})

	state, emit := e.Observe(Observed{Playing: false, Position: 40.5})
	require.True(t, emit)
	assert.False(t, state.Playing)
	assert.Nil(t, state.Position)

	_, emit = e.Observe(Observed{Playing: false, Position: 40.5})
	assert.False(t, emit)
}

func TestColdStartReportsPlayback(t *testing.T) {
	p := &fakePlayer{duration: 200}
	e := New(p, DefaultThreshold)

	e.ColdStart()
	assert.Equal(t, []call{{op: "play", play: true}}, p.take())

	state, emit := e.Observe(Observed{Playing: true, Position: 0.4})
	require.True(t, emit)
	assert.True(t, state.Playing)
	assert.Nil(t, state.Position)
}

func TestEndedReportsDuration(t *testing.T) {
	p := &fakePlayer{duration: 90}
	e := New(p, DefaultThreshold)
	e.Observe(Observed{Playing: true, Position: 89.5})

	e.OnEnded()

	// a stale time after the end would otherwise look like a rewind
	_, emit := e.Observe(Observed{Playing: true, Position: 88})
	assert.False(t, emit)

	e.OnPlayPause()
	state, emit := e.Observe(Observed{Playing: true, Position: 0})
	require.True(t, emit)
	assert.Equal(t, 0.0, *state.Position)
}

func TestResetClearsPendingState(t *testing.T) {
	p := &fakePlayer{duration: 100}
	e := New(p, DefaultThreshold)

	e.Apply(protocol.PlayerState{Playing: true, Position: protocol.Float(50)})
	e.Observe(Observed{Playing: true, Position: 3})
	p.take()

	e.Reset()

	_, pending := e.Desired()
	assert.False(t, pending)

	_, emit := e.Observe(Observed{Playing: false, Position: 0.5})
	assert.False(t, emit, "after reset the engine compares against a fresh paused-at-zero state")
	assert.Empty(t, p.take())
}

func TestCustomThreshold(t *testing.T) {
	e := New(&fakePlayer{}, 0.5)
	e.Observe(Observed{Playing: true, Position: 10})

	_, emit := e.Observe(Observed{Playing: true, Position: 10.8})
	assert.True(t, emit)
}
