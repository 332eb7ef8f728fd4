package tty

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []struct {
		pgrp int
		sig  Signal
	}
}

func (s *recordingSink) Deliver(pgrp int, sig Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, struct {
		pgrp int
		sig  Signal
	}{pgrp, sig})
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// TestCookedReadReturnsCompleteLine mirrors end-to-end scenario 4:
// tty0 in cooked mode with echo on; feed 'H','i','\n'; a concurrent
// read(128) returns exactly "Hi\n".
func TestCookedReadReturnsCompleteLine(t *testing.T) {
	p := New(nil)

	resultC := make(chan []byte, 1)
	go func() {
		out, err := p.Read(128, 0)
		require.NoError(t, err)
		resultC <- out
	}()

	time.Sleep(20 * time.Millisecond)
	p.Feed('H')
	p.Feed('i')
	p.Feed('\n')

	select {
	case out := <-resultC:
		assert.Equal(t, "Hi\n", string(out))
	case <-time.After(time.Second):
		t.Fatal("cooked read never returned a completed line")
	}
}

func TestBackspaceShrinksLineBuffer(t *testing.T) {
	p := New(nil)
	p.Feed('H')
	p.Feed('i')
	p.Feed(charBackspace)
	p.Feed('!')
	p.Feed('\n')

	out, err := p.Read(128, 0)
	require.NoError(t, err)
	assert.Equal(t, "H!\n", string(out))
}

// TestCtrlCSignalsProcessGroup mirrors end-to-end scenario 4's second
// half: CTRL-C with isig on and pgrp=42 issues exactly one SIGINT to
// -42.
func TestCtrlCSignalsProcessGroup(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	p.SetPgrp(42)

	p.Feed(charCtrlC)

	require.Equal(t, 1, sink.count())
	assert.Equal(t, -42, sink.calls[0].pgrp)
	assert.Equal(t, SIGINT, sink.calls[0].sig)
}

func TestRawModeReturnsWhateverIsBuffered(t *testing.T) {
	p := New(nil)
	p.SetMode(Raw)
	p.Feed('a')
	p.Feed('b')

	out, err := p.Read(1, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", string(out))
}

func TestWinsizeChangeSignalsSIGWINCH(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	p.SetPgrp(7)
	p.SetWinsize(Winsize{Rows: 24, Cols: 80})

	require.Equal(t, 1, sink.count())
	assert.Equal(t, SIGWINCH, sink.calls[0].sig)
}
