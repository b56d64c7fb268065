package rpi

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"github.com/pkg/errors"
	"os"
	"periph.io/x/host/v3/distro"
	"strconv"
	"strings"
)

const (
	REVISION_FILE = "/proc/device-tree/system/linux,revision"

	PERIPH_BASE_RPI  = 0x20000000
	PERIPH_BASE_RPI2 = 0x3f000000
	PERIPH_BASE_RPI4 = 0xfe000000

	// Used when nothing better is known. Pi 2 and 3 both live here.
	PERIPH_BASE_DEFAULT = PERIPH_BASE_RPI2
)

// Board is what we need to know about the Pi we're running on.
type Board struct {
	Revision   uint32
	PeriphBase uintptr
	Name       string
}

// Detect which version of a Raspberry Pi we're running on. The device tree
// revision is preferred; /proc/cpuinfo is the fallback for older kernels.
func DetectBoard() (*Board, error) {
	rev, err := readRevision(REVISION_FILE)
	if err != nil {
		var cerr error
		rev, cerr = cpuInfoRevision()
		if cerr != nil {
			return nil, errors.Wrapf(err, "couldn't read revision (cpuinfo: %v)", cerr)
		}
	}
	b, err := boardFromRevision(rev)
	if err != nil {
		return nil, err
	}
	if m := distro.DTModel(); m != "" && m != "unknown" {
		b.Name = m
	}
	return b, nil
}

func readRevision(path string) (uint32, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "couldn't open linux revision file")
	}
	if len(b) != 4 {
		return 0, errors.Errorf("revision file got %d instead of 4 bytes", len(b))
	}
	var ver uint32
	err = binary.Read(bytes.NewReader(b), binary.BigEndian, &ver)
	if err != nil {
		return 0, errors.Wrap(err, "somehow couldn't convert 4 bytes to a uint32")
	}
	return ver, nil
}

func cpuInfoRevision() (uint32, error) {
	s, ok := distro.CPUInfo()["Revision"]
	if !ok {
		return 0, errors.New("no Revision in cpuinfo")
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "couldn't parse cpuinfo revision %q", s)
	}
	return uint32(v), nil
}

var processorNames = []string{"BCM2835", "BCM2836", "BCM2837", "BCM2711", "BCM2712"}

// boardFromRevision decodes a revision code. New-style codes (bit 23 set)
// carry the SoC in bits 12-15; the handful of old-style codes are all BCM2835.
// See https://www.raspberrypi.com/documentation/computers/raspberry-pi.html#raspberry-pi-revision-codes
func boardFromRevision(rev uint32) (*Board, error) {
	if rev&(1<<23) == 0 {
		// Bit 24 is the warranty bit on overvolted old boards
		if r := rev & 0xffffff; r >= 0x02 && r <= 0x15 {
			return &Board{Revision: rev, PeriphBase: PERIPH_BASE_RPI, Name: fmt.Sprintf("BCM2835 rev %X", r)}, nil
		}
		return nil, errors.Errorf("couldn't identify hardware revision %X", rev)
	}
	proc := (rev >> 12) & 0xf
	b := &Board{Revision: rev}
	switch proc {
	case 0:
		b.PeriphBase = PERIPH_BASE_RPI
	case 1, 2:
		b.PeriphBase = PERIPH_BASE_RPI2
	case 3:
		b.PeriphBase = PERIPH_BASE_RPI4
	case 4:
		// Pi 5 GPIO and clocks live behind RP1, not at a peripheral base.
		return nil, errors.Errorf("revision %X is a BCM2712, which isn't supported", rev)
	default:
		return nil, errors.Errorf("couldn't identify processor %d in revision %X", proc, rev)
	}
	b.Name = fmt.Sprintf("%s rev %X", processorNames[proc], rev)
	return b, nil
}
