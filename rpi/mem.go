package rpi

import (
	mmap "github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"log"
	"os"
)

const (
	MEM_FILE   = "/dev/mem"
	BLOCK_SIZE = 4096 // Some datasheets say 1024. It's 4096.
)

var pageSize = uintptr(unix.Getpagesize())

// DevMem maps physical memory through a single, owned /dev/mem descriptor.
type DevMem struct {
	path string
	f    *os.File
}

// OpenDevMem opens the memory device at path. O_SYNC gets us uncached
// mappings, though the ARM write buffer can still delay things slightly.
func OpenDevMem(path string) (*DevMem, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open %s", path)
	}
	return &DevMem{path: path, f: f}, nil
}

// Map uses mmap to map a given physical address into our address space.
// Since the mapping has to start at a page boundary, the physical address is
// rounded down and the returned Window starts at physAddr%pageSize into the
// mapping.
func (dm *DevMem) Map(physAddr uintptr, size int) (Window, error) {
	if dm.f == nil {
		return nil, errors.Errorf("%s isn't open", dm.path)
	}
	pagemask := ^(pageSize - 1)
	mapAddr := physAddr & pagemask
	offs := physAddr - mapAddr
	size += int(offs)
	log.Printf("MapRegion(%s, %d, RDWR, 0, %08X), physAddr %08X\n", dm.path, size, mapAddr, physAddr)
	mm, err := mmap.MapRegion(dm.f, size, mmap.RDWR, 0, int64(mapAddr))
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't map region (%08X, %d)", physAddr, size)
	}
	return &wordWindow{words: bytesToWords(mm[offs:]), unmap: mm.Unmap}, nil
}

func (dm *DevMem) Close() error {
	if dm.f == nil {
		return nil
	}
	err := dm.f.Close()
	dm.f = nil
	if err != nil {
		return errors.Wrapf(err, "couldn't close %s", dm.path)
	}
	return nil
}
