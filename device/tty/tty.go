// Package tty implements the TTY line-discipline pipeline (spec
// §4.5.5): raw, cooked and cbreak modes over input/output rings, a
// cooked-mode line-editing buffer, and process-group signal dispatch
// for control characters.
package tty

import (
	"sync"

	"github.com/kos-sim/kos/domain"
	"github.com/kos-sim/kos/kerrors"
)

// Mode is the line-discipline mode (spec §4.5.5).
type Mode int

const (
	Cooked Mode = iota
	Raw
	Cbreak
)

// Local flag bits, a subset of the termios local-flag word.
type LocalFlags uint32

const (
	LocalEcho LocalFlags = 1 << iota
	LocalISig
)

// OutputFlags is a subset of the termios output-flag word.
type OutputFlags uint32

const (
	OutputONLCR OutputFlags = 1 << iota
)

const (
	charBackspace = 0x08
	charDEL       = 0x7f
	charLF        = '\n'
	charCR        = '\r'
	charCtrlC     = 0x03
	charCtrlZ     = 0x1a
	charCtrlD     = 0x04
)

// Signal is a control-character-driven signal delivered to a negative
// process-group id (spec glossary: "Process group").
type Signal int

const (
	SIGINT Signal = iota
	SIGTSTP
	SIGWINCH
	SIGEOF
)

// SignalSink receives control-character and winsize-driven signals,
// addressed to -pgrp per spec §4.5.5.
type SignalSink interface {
	Deliver(pgrp int, sig Signal)
}

type Winsize struct {
	Rows, Cols uint16
}

// Pipeline is one TTY device's termios state, buffers and stats.
type Pipeline struct {
	mu sync.Mutex

	mode   Mode
	local  LocalFlags
	output OutputFlags
	pgrp   int
	win    Winsize

	input    []byte
	inputC   *sync.Cond
	output_  []byte
	line     []byte
	lineC    *sync.Cond

	sink  SignalSink
	stats domain.TTYStats
}

// New builds a cooked-mode pipeline with echo on.
func New(sink SignalSink) *Pipeline {
	p := &Pipeline{mode: Cooked, local: LocalEcho | LocalISig, output: OutputONLCR, sink: sink}
	p.inputC = sync.NewCond(&p.mu)
	p.lineC = sync.NewCond(&p.mu)
	return p
}

// Feed processes one received character per spec §4.5.5's input
// processing rules.
func (p *Pipeline) Feed(c byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.local&LocalISig != 0 {
		switch c {
		case charCtrlC:
			p.deliver(SIGINT)
			return
		case charCtrlZ:
			p.deliver(SIGTSTP)
			return
		case charCtrlD:
			p.deliver(SIGEOF)
			return
		}
	}

	p.stats.CharsIn++

	if p.mode == Raw || p.mode == Cbreak {
		p.input = append(p.input, c)
		p.inputC.Broadcast()
		return
	}

	switch c {
	case charBackspace, charDEL:
		if len(p.line) > 0 {
			p.line = p.line[:len(p.line)-1]
			if p.local&LocalEcho != 0 {
				p.echoLocked([]byte{charBackspace, ' ', charBackspace})
			}
		}
	case charLF, charCR:
		p.line = append(p.line, '\n')
		p.input = append(p.input, p.line...)
		p.line = nil
		p.stats.LinesReady++
		p.inputC.Broadcast()
		if p.local&LocalEcho != 0 {
			p.echoLocked([]byte{'\n'})
		}
	default:
		p.line = append(p.line, c)
		if p.local&LocalEcho != 0 {
			p.echoLocked([]byte{c})
		}
	}
}

func (p *Pipeline) deliver(sig Signal) {
	p.stats.SignalsSent++
	if p.sink != nil {
		p.sink.Deliver(-p.pgrp, sig)
	}
}

// echoLocked runs output processing (ONLCR) and appends to the output
// ring. Must be called with mu held.
func (p *Pipeline) echoLocked(data []byte) {
	for _, c := range data {
		if c == charLF && p.output&OutputONLCR != 0 {
			p.output_ = append(p.output_, charCR)
		}
		p.output_ = append(p.output_, c)
	}
	p.stats.CharsOut += uint64(len(data))
}

// Read implements the mode-dependent read contract from spec §4.5.5.
func (p *Pipeline) Read(count int, flags domain.Flags) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nonblock := flags&domain.FlagNonblock != 0

	if p.mode == Cooked {
		for p.stats.LinesReady == 0 {
			if nonblock {
				return nil, kerrors.Busyf("tty: no line ready")
			}
			p.inputC.Wait()
		}
	} else {
		for len(p.input) == 0 {
			if nonblock {
				return nil, kerrors.Busyf("tty: input ring empty")
			}
			p.inputC.Wait()
		}
	}

	n := count
	if n > len(p.input) {
		n = len(p.input)
	}
	out := append([]byte(nil), p.input[:n]...)
	p.input = p.input[n:]

	if p.mode == Cooked {
		consumed := 0
		for _, b := range out {
			if b == '\n' {
				consumed++
			}
		}
		if consumed > 0 {
			p.stats.LinesReady -= uint64(consumed)
		}
	}
	return out, nil
}

// Output drains the output ring (what a terminal emulator would
// display), for callers that want to observe echoed/processed bytes.
func (p *Pipeline) Output(count int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := count
	if n > len(p.output_) {
		n = len(p.output_)
	}
	out := append([]byte(nil), p.output_[:n]...)
	p.output_ = p.output_[n:]
	return out
}

func (p *Pipeline) SetMode(m Mode) {
	p.mu.Lock()
	p.mode = m
	p.mu.Unlock()
}

func (p *Pipeline) SetPgrp(pgrp int) {
	p.mu.Lock()
	p.pgrp = pgrp
	p.mu.Unlock()
}

func (p *Pipeline) SetWinsize(w Winsize) {
	p.mu.Lock()
	p.win = w
	p.mu.Unlock()
	p.signalPgrp(SIGWINCH)
}

// signalPgrp delivers sig to the device's process group. Must be
// called without mu held.
func (p *Pipeline) signalPgrp(sig Signal) {
	p.mu.Lock()
	p.stats.SignalsSent++
	pgrp := p.pgrp
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.Deliver(-pgrp, sig)
	}
}

func (p *Pipeline) Stats() domain.TTYStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// IOCtl implements SETRAW/SETCOOKED/TTYGETATTR/GET_INFO and window
// size get/set (spec §4.5.5).
func (p *Pipeline) IOCtl(cmd domain.Ioctl, arg interface{}) (interface{}, error) {
	switch cmd {
	case domain.IoctlTTYSetRaw:
		p.SetMode(Raw)
		return nil, nil
	case domain.IoctlTTYSetCooked:
		p.SetMode(Cooked)
		return nil, nil
	case domain.IoctlTTYGetAttr:
		p.mu.Lock()
		defer p.mu.Unlock()
		return struct {
			Mode    Mode
			Local   LocalFlags
			Output  OutputFlags
			Winsize Winsize
		}{p.mode, p.local, p.output, p.win}, nil
	case domain.IoctlGetInfo:
		return p.Stats(), nil
	default:
		return nil, kerrors.NotSupportedf("tty: unsupported ioctl %#x", uint32(cmd))
	}
}
