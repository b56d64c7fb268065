package rpi

import (
	"github.com/pkg/errors"
	"log"
	"periph.io/x/host/v3/pmem"
)

// PMem maps physical memory through periph's pmem package. pmem keeps its own
// /dev/mem descriptor for the life of the process, so Close has nothing to release.
type PMem struct{}

func (PMem) Map(physAddr uintptr, size int) (Window, error) {
	v, err := pmem.Map(uint64(physAddr), size)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't pmem.Map(%08X, %d)", physAddr, size)
	}
	log.Printf("pmem.Map(%08X, %d) ok\n", physAddr, size)
	return &wordWindow{words: v.Uint32(), unmap: v.Close}, nil
}

func (PMem) Close() error {
	return nil
}
