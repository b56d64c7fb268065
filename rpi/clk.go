package rpi

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"log"
	"math"
	"strings"
	"time"
)

const (
	CM_OFFSET = uintptr(0x00101000)
	CM_GP0CTL = 0x70 / 4 // word offsets within the clock manager block
	CM_GP0DIV = 0x74 / 4

	CM_CLK_CTL_PASSWD   = uint32(0x5a << 24)
	CM_CLK_CTL_BUSY     = 1 << 7
	CM_CLK_CTL_KILL     = 1 << 5
	CM_CLK_CTL_ENAB     = 1 << 4
	CM_CLK_CTL_SRC_MASK = 0xf
	CM_CLK_CTL_SRC_OSC  = 1
	CM_CLK_CTL_SRC_PLLD = 6
	CM_CLK_DIV_PASSWD   = uint32(0x5a << 24)
	CM_PASSWD_MASK      = uint32(0xff << 24)

	CM_CLK_DIVI_MIN = 2
	CM_CLK_DIVI_MAX = 4095

	PLLD_FREQ = 500e6 // Hz

	// Datasheet doesn't say how long a kill takes. 10us is what everyone uses.
	CM_KILL_SETTLE = 10 * time.Microsecond
)

var (
	ErrDivisorRange = errors.Errorf("divisor out of range (%d-%d)", CM_CLK_DIVI_MIN, CM_CLK_DIVI_MAX)
	ErrBusyTimeout  = errors.New("timed out waiting for clock not-busy")
)

func cmClkDivI(val uint32) uint32 {
	return (val & 0xfff) << 12
}

// Divisor works out the integer PLLD divisor that puts freq/harmonic on the
// pin. The hardware can't divide by less than 2 or more than 4095.
func Divisor(freq float64, harmonic int) (int, error) {
	if harmonic < 1 {
		return 0, errors.Errorf("harmonic %d must be at least 1", harmonic)
	}
	base := freq / float64(harmonic)
	d := math.Trunc(PLLD_FREQ / base)
	if math.IsNaN(d) || d < CM_CLK_DIVI_MIN || d > CM_CLK_DIVI_MAX {
		return 0, errors.Wrapf(ErrDivisorRange, "freq %v, harmonic %d gives %.0f", freq, harmonic, d)
	}
	return int(d), nil
}

// OutputFrequency is what the pin actually does for a given divisor.
func OutputFrequency(divisor int) float64 {
	return PLLD_FREQ / float64(divisor)
}

// Clock is one general-purpose clock generator: a CTL/DIV register pair.
type Clock struct {
	w   Window
	ctl int
	div int
}

func NewGPClock0(w Window) *Clock {
	return &Clock{w: w, ctl: CM_GP0CTL, div: CM_GP0DIV}
}

// kill stops the clock, whatever it was doing, and gives it a moment.
func (c *Clock) kill() {
	c.w.WriteWord(c.ctl, CM_CLK_CTL_PASSWD|CM_CLK_CTL_KILL)
	time.Sleep(CM_KILL_SETTLE)
}

// WaitNotBusy polls CTL until BUSY clears. It always reads at least once.
// A timeout of 0 waits forever, which is what a wedged clock manager gets.
// It returns the number of reads it took.
func (c *Clock) WaitNotBusy(ctx context.Context, timeout time.Duration) (int, error) {
	start := time.Now()
	i := 0
	for {
		i++
		v := c.w.ReadWord(c.ctl)
		if v&CM_CLK_CTL_BUSY == 0 {
			return i, nil
		}
		if err := ctx.Err(); err != nil {
			return i, errors.Wrapf(err, "gave up waiting for clock not-busy after %d reads", i)
		}
		if timeout > 0 && time.Since(start) > timeout {
			return i, errors.Wrapf(ErrBusyTimeout, "after %d reads, ctl %#v", i, ClockCtl(v))
		}
	}
}

// Start kills the clock, waits for it to go idle, loads the divisor and
// enables it with PLLD as the source. It must not be called while the clock
// is running, since changing DIV while busy glitches the output.
func (c *Clock) Start(ctx context.Context, divisor int, busyTimeout time.Duration) error {
	if divisor < CM_CLK_DIVI_MIN || divisor > CM_CLK_DIVI_MAX {
		return errors.Wrapf(ErrDivisorRange, "got %d", divisor)
	}
	c.kill()
	log.Printf("Waiting for clock not-busy\n")
	n, err := c.WaitNotBusy(ctx, busyTimeout)
	if err != nil {
		return err
	}
	log.Printf("Done %d\n", n)
	c.w.WriteWord(c.div, CM_CLK_DIV_PASSWD|cmClkDivI(uint32(divisor)))
	c.w.WriteWord(c.ctl, CM_CLK_CTL_PASSWD|CM_CLK_CTL_ENAB|CM_CLK_CTL_SRC_PLLD)
	log.Printf("Clock started, div %d, ctl %#v\n", divisor, ClockCtl(c.w.ReadWord(c.ctl)))
	return nil
}

// Stop kills the clock. Nobody waits for BUSY here: we're on the way out.
func (c *Clock) Stop() {
	c.kill()
	log.Printf("Clock stopped\n")
}

// Enabled reports whether ENAB is set in CTL.
func (c *Clock) Enabled() bool {
	return c.w.ReadWord(c.ctl)&CM_CLK_CTL_ENAB != 0
}

// ClockCtl is a CTL register value, for logging.
type ClockCtl uint32

func (c ClockCtl) GoString() string {
	var out []string
	if uint32(c)&CM_PASSWD_MASK == CM_CLK_CTL_PASSWD {
		out = append(out, "PWD")
	}
	c &^= ClockCtl(CM_PASSWD_MASK)
	if c&CM_CLK_CTL_BUSY != 0 {
		out = append(out, "Busy")
	}
	if c&CM_CLK_CTL_KILL != 0 {
		out = append(out, "Kill")
	}
	if c&CM_CLK_CTL_ENAB != 0 {
		out = append(out, "Enable")
	}
	switch src := c & CM_CLK_CTL_SRC_MASK; src {
	case 0:
		out = append(out, "GND")
	case CM_CLK_CTL_SRC_OSC:
		out = append(out, "OSC")
	case CM_CLK_CTL_SRC_PLLD:
		out = append(out, "PLLD")
	default:
		out = append(out, fmt.Sprintf("SRC(%d)", src))
	}
	return strings.Join(out, "|")
}
