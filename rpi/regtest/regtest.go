// Package regtest provides in-memory register windows for testing code that
// drives peripherals through rpi.Window.
//
// A Window records every write, can hold a status bit set for a number of
// reads to simulate a busy peripheral, and flags writes to password-protected
// registers that don't carry the clock manager password.
package regtest

import (
	"fmt"
	"github.com/Jon-Bright/pinradio/rpi"
	"github.com/pkg/errors"
)

type Write struct {
	Off int
	Val uint32
}

func (w Write) String() string {
	return fmt.Sprintf("[%d]=%08X", w.Off, w.Val)
}

type Window struct {
	Words      []uint32
	Writes     []Write
	Reads      map[int]int
	Violations []Write // writes to protected registers without the password
	Closed     bool

	protected map[int]bool
	busyMask  map[int]uint32
	busyLeft  map[int]int
}

// NewWindow returns a zeroed window of size bytes. Writes to any of the
// protected word offsets must have the password in their top byte.
func NewWindow(size int, protected ...int) *Window {
	w := &Window{
		Words:     make([]uint32, size/4),
		Reads:     map[int]int{},
		protected: map[int]bool{},
		busyMask:  map[int]uint32{},
		busyLeft:  map[int]int{},
	}
	for _, p := range protected {
		w.protected[p] = true
	}
	return w
}

// NewClockWindow is a clock manager window with GP0CTL and GP0DIV protected.
func NewClockWindow() *Window {
	return NewWindow(rpi.BLOCK_SIZE, rpi.CM_GP0CTL, rpi.CM_GP0DIV)
}

// SetBusy makes the next n reads of off return with mask set. After that, mask
// reads as clear.
func (w *Window) SetBusy(off int, mask uint32, n int) {
	w.busyMask[off] = mask
	w.busyLeft[off] = n
}

func (w *Window) ReadWord(off int) uint32 {
	if w.Closed {
		panic(fmt.Sprintf("read of word %d after Close", off))
	}
	w.Reads[off]++
	v := w.Words[off]
	mask, ok := w.busyMask[off]
	if !ok {
		return v
	}
	if w.busyLeft[off] > 0 {
		w.busyLeft[off]--
		return v | mask
	}
	return v &^ mask
}

func (w *Window) WriteWord(off int, val uint32) {
	if w.Closed {
		panic(fmt.Sprintf("write of %08X to word %d after Close", val, off))
	}
	wr := Write{off, val}
	w.Writes = append(w.Writes, wr)
	if w.protected[off] && val&rpi.CM_PASSWD_MASK != rpi.CM_CLK_CTL_PASSWD {
		w.Violations = append(w.Violations, wr)
	}
	w.Words[off] = val
}

func (w *Window) Close() error {
	if w.Closed {
		return errors.New("window closed twice")
	}
	w.Closed = true
	return nil
}

// WritesTo returns the values written to off, oldest first.
func (w *Window) WritesTo(off int) []uint32 {
	var vs []uint32
	for _, wr := range w.Writes {
		if wr.Off == off {
			vs = append(vs, wr.Val)
		}
	}
	return vs
}

// Mapper hands out Windows by physical address. Addresses without a
// registered Window get a fresh, unprotected one.
type Mapper struct {
	Windows map[uintptr]*Window
	Fail    map[uintptr]error
	Mapped  []uintptr
	Closed  bool
	Closes  int
}

func NewMapper() *Mapper {
	return &Mapper{Windows: map[uintptr]*Window{}, Fail: map[uintptr]error{}}
}

// NewPiMapper registers a GPIO window and a clock manager window at their
// usual places relative to periphBase.
func NewPiMapper(periphBase uintptr) (*Mapper, *Window, *Window) {
	m := NewMapper()
	gpio := NewWindow(rpi.BLOCK_SIZE)
	clk := NewClockWindow()
	m.Windows[periphBase+rpi.GPIO_OFFSET] = gpio
	m.Windows[periphBase+rpi.CM_OFFSET] = clk
	return m, gpio, clk
}

func (m *Mapper) Map(physAddr uintptr, size int) (rpi.Window, error) {
	if m.Closed {
		return nil, errors.New("mapper is closed")
	}
	if err := m.Fail[physAddr]; err != nil {
		return nil, err
	}
	w, ok := m.Windows[physAddr]
	if !ok {
		w = NewWindow(size)
		m.Windows[physAddr] = w
	}
	m.Mapped = append(m.Mapped, physAddr)
	return w, nil
}

func (m *Mapper) Close() error {
	m.Closes++
	if m.Closed {
		return errors.New("mapper closed twice")
	}
	m.Closed = true
	return nil
}
