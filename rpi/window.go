package rpi

import (
	"sync/atomic"
	"unsafe"
)

// Window is a mapped block of peripheral registers, addressed in 32-bit words.
// Every ReadWord and WriteWord reaches the device: nothing is cached, elided or
// reordered relative to other accesses through the same Window.
type Window interface {
	ReadWord(off int) uint32
	WriteWord(off int, val uint32)
	Close() error
}

// Mapper hands out Windows onto physical memory. Closing a Mapper releases
// whatever it holds open itself (e.g. the /dev/mem descriptor), not the
// Windows it handed out.
type Mapper interface {
	Map(physAddr uintptr, size int) (Window, error)
	Close() error
}

// wordWindow accesses mapped memory through sync/atomic, which is the closest
// Go gets to volatile.
type wordWindow struct {
	words []uint32
	unmap func() error
}

// bytesToWords reinterprets a mapped []byte as []uint32. b must be 4-byte
// aligned, which any mapping offset from a page boundary by a register address is.
func bytesToWords(b []byte) []uint32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func (w *wordWindow) ReadWord(off int) uint32 {
	return atomic.LoadUint32(&w.words[off])
}

func (w *wordWindow) WriteWord(off int, val uint32) {
	atomic.StoreUint32(&w.words[off], val)
}

func (w *wordWindow) Close() error {
	w.words = nil
	if w.unmap == nil {
		return nil
	}
	err := w.unmap()
	w.unmap = nil
	return err
}
