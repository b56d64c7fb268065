package rpi

import (
	"context"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"log"
	"time"
)

// Mapping of GPIO pins to which "alt" function routes GPCLK0 onto them. See p102 of datasheet.
var gpClk0PinToAlt = map[int]int{
	4:  0,
	20: 5,
	32: 0,
	34: 0,
}

const (
	DEFAULT_PIN      = 4
	DEFAULT_HARMONIC = 3
)

type Config struct {
	PeriphBase  uintptr
	Pin         int           // must be able to carry GPCLK0
	Harmonic    int           // the pin runs at freq/Harmonic
	BusyTimeout time.Duration // 0 means wait for BUSY forever
}

func (c Config) Validate() error {
	if _, ok := gpClk0PinToAlt[c.Pin]; !ok {
		return errors.Errorf("pin %d can't carry GPCLK0", c.Pin)
	}
	if c.Harmonic < 1 {
		return errors.Errorf("harmonic %d must be at least 1", c.Harmonic)
	}
	if c.BusyTimeout < 0 {
		return errors.Errorf("busy timeout %v is negative", c.BusyTimeout)
	}
	return nil
}

// Controller owns the memory device and both register windows, and is the
// only thing that touches GPCLK0. It isn't safe for concurrent use: signals
// should cancel the context given to Run, not call Close.
type Controller struct {
	cfg     Config
	mem     Mapper
	gpio    Window
	clkWin  Window
	clk     *Clock
	enabled bool
}

// NewController takes ownership of mem. Nothing is mapped until Map.
func NewController(mem Mapper, cfg Config) *Controller {
	return &Controller{cfg: cfg, mem: mem}
}

// Open is NewController followed by Map. On failure everything acquired so
// far, mem included, has been released.
func Open(mem Mapper, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		mem.Close() // Ignore error
		return nil, err
	}
	cc := NewController(mem, cfg)
	if err := cc.Map(); err != nil {
		if cerr := cc.Close(); cerr != nil {
			log.Printf("Close after failed Map: %v", cerr)
		}
		return nil, err
	}
	return cc, nil
}

// Map acquires the GPIO and clock manager windows, stopping at the first failure.
func (cc *Controller) Map() error {
	if cc.mem == nil {
		return errors.New("controller is closed")
	}
	var err error
	if cc.gpio == nil {
		addr := cc.cfg.PeriphBase + GPIO_OFFSET
		cc.gpio, err = cc.mem.Map(addr, BLOCK_SIZE)
		if err != nil {
			cc.gpio = nil
			return errors.Wrapf(err, "couldn't map GPIO at %08X", addr)
		}
	}
	if cc.clkWin == nil {
		addr := cc.cfg.PeriphBase + CM_OFFSET
		cc.clkWin, err = cc.mem.Map(addr, BLOCK_SIZE)
		if err != nil {
			cc.clkWin = nil
			return errors.Wrapf(err, "couldn't map clock manager at %08X", addr)
		}
		cc.clk = NewGPClock0(cc.clkWin)
	}
	return nil
}

// SelectPin routes GPCLK0 onto the configured pin.
func (cc *Controller) SelectPin() error {
	if cc.gpio == nil {
		return errors.New("GPIO isn't mapped")
	}
	alt, ok := gpClk0PinToAlt[cc.cfg.Pin]
	if !ok {
		return errors.Errorf("pin %d can't carry GPCLK0", cc.cfg.Pin)
	}
	return SetAltFunction(cc.gpio, cc.cfg.Pin, alt)
}

// Divisor is the package-level Divisor with the configured harmonic.
func (cc *Controller) Divisor(freq float64) (int, error) {
	return Divisor(freq, cc.cfg.Harmonic)
}

// Enable runs the kill, wait-not-busy, divisor, enable sequence.
func (cc *Controller) Enable(ctx context.Context, divisor int) error {
	if cc.clk == nil {
		return errors.New("clock manager isn't mapped")
	}
	err := cc.clk.Start(ctx, divisor, cc.cfg.BusyTimeout)
	if err != nil {
		return errors.Wrap(err, "couldn't start GPCLK0")
	}
	cc.enabled = true
	return nil
}

// Enabled reports whether Enable has completed and Close hasn't run since.
func (cc *Controller) Enabled() bool {
	return cc.enabled
}

// Run does nothing until ctx is done. The clock runs in hardware; we're only
// here so that someone turns it off again.
func (cc *Controller) Run(ctx context.Context) {
	log.Printf("Running until cancelled\n")
	<-ctx.Done()
	log.Printf("Cancelled: %v\n", ctx.Err())
}

// Close kills the clock if the clock manager is mapped, then releases both
// windows and the memory device. Each step only happens if the thing it
// releases was acquired, so Close is safe at any point and a second call
// does nothing.
func (cc *Controller) Close() error {
	var err error
	if cc.clk != nil {
		cc.clk.Stop()
		cc.clk = nil
		cc.enabled = false
	}
	if cc.gpio != nil {
		err = multierr.Append(err, errors.Wrap(cc.gpio.Close(), "couldn't unmap GPIO"))
		cc.gpio = nil
	}
	if cc.clkWin != nil {
		err = multierr.Append(err, errors.Wrap(cc.clkWin.Close(), "couldn't unmap clock manager"))
		cc.clkWin = nil
	}
	if cc.mem != nil {
		err = multierr.Append(err, cc.mem.Close())
		cc.mem = nil
	}
	return err
}
