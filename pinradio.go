package main

import (
	"context"
	"flag"
	"fmt"
	"github.com/Jon-Bright/pinradio/antenna"
	"github.com/Jon-Bright/pinradio/rpi"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"io"
	"log"
	"os"
	"os/signal"
	"periph.io/x/conn/v3/physic"
)

var freq physic.Frequency

func init() {
	flag.Var(&freq, "freq", "Target frequency, e.g. 100MHz. If unset, it's read from stdin in Hz")
}

var harmonic = flag.Int("harmonic", rpi.DEFAULT_HARMONIC, "The harmonic of the pin frequency that should land on the target frequency")
var pin = flag.Int("pin", rpi.DEFAULT_PIN, "The GPCLK0 pin to output on: one of 4, 20, 32, 34")
var periphBase = flag.Uint64("periphbase", 0, "Physical peripheral base address. 0 means detect from the board revision")
var memDev = flag.String("mem", rpi.MEM_FILE, "The memory device to map registers from, for the devmem backend")
var backend = flag.String("backend", "devmem", "How to map registers: one of devmem, pmem")
var busyTimeout = flag.Duration("busytimeout", 0, "How long to wait for the clock to go idle before configuring it. 0 waits forever")
var wireVelocity = flag.Float64("wirevelocity", antenna.WIRE_VELOCITY, "Propagation speed along the antenna wire, in m/s")
var spectrum = flag.Bool("spectrum", false, "Print the expected harmonic spectrum on an optimal-length open wire")
var verbose = flag.Bool("v", false, "Log register-level detail to stderr")

const (
	exitOK       = 0
	exitBadInput = 1
	exitBadFlags = 2
	exitHardware = 255 // what returning -1 from main in C amounts to
)

type pinRadio struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	freq       float64 // Hz, 0 means ask
	cfg        rpi.Config
	notify     func(context.Context) (context.Context, context.CancelFunc)
	periphBase func() (uintptr, error)
	openMem    func() (rpi.Mapper, error)
}

// readFrequency prompts for and reads a single number, in Hz.
func readFrequency(r io.Reader, w io.Writer) (float64, error) {
	fmt.Fprint(w, "Enter target frequency (Hz): ")
	var f float64
	_, err := fmt.Fscan(r, &f)
	if err != nil {
		return 0, err
	}
	return f, nil
}

func (pr *pinRadio) run(ctx context.Context) int {
	f := pr.freq
	if f == 0 {
		var err error
		f, err = readFrequency(pr.stdin, pr.stdout)
		if err != nil {
			fmt.Fprintf(pr.stderr, "Invalid input: %v\n", err)
			return exitBadInput
		}
	}
	// Not before the read: a blocked Fscan would swallow Ctrl+C
	ctx, stop := pr.notify(ctx)
	defer stop()

	base, err := pr.periphBase()
	if err != nil {
		fmt.Fprintf(pr.stderr, "Couldn't work out peripheral base: %v\n", err)
		return exitHardware
	}
	pr.cfg.PeriphBase = base
	mem, err := pr.openMem()
	if err != nil {
		fmt.Fprintf(pr.stderr, "Couldn't open memory. Consider sudo! %v\n", err)
		return exitHardware
	}
	cc, err := rpi.Open(mem, pr.cfg)
	if err != nil {
		fmt.Fprintf(pr.stderr, "Couldn't map registers: %v\n", err)
		return exitHardware
	}
	code := pr.transmit(ctx, cc, f)
	if err := cc.Close(); err != nil {
		log.Printf("Errors during cleanup: %v", err)
	}
	fmt.Fprintln(pr.stdout, "Exiting. Byebye!")
	return code
}

// transmit configures and enables the clock, then waits for ctx. Whatever
// happens, the caller closes cc afterwards.
func (pr *pinRadio) transmit(ctx context.Context, cc *rpi.Controller, f float64) int {
	if err := cc.SelectPin(); err != nil {
		fmt.Fprintf(pr.stderr, "Couldn't select pin function: %v\n", err)
		return exitHardware
	}
	div, err := cc.Divisor(f)
	if err != nil {
		fmt.Fprintf(pr.stderr, "%v. Try a different frequency.\n", err)
		return exitOK
	}

	h := pr.cfg.Harmonic
	baseFreq := f / float64(h)
	fmt.Fprintf(pr.stdout, "Target frequency: %.2f MHz, base frequency: %.2f MHz, harmonic: %d, divisor: %d\n",
		f/1e6, baseFreq/1e6, h, div)
	out := rpi.OutputFrequency(div)
	l := antenna.OptimalLength(out, *wireVelocity)
	fmt.Fprintf(pr.stdout, "Pin frequency: %s, harmonic %d at %s. Open wire length for the 3rd harmonic: %s\n",
		antenna.Frequency(out), h, antenna.Frequency(out*float64(h)), antenna.Distance(l))
	if *spectrum {
		fmt.Fprint(pr.stdout, antenna.Table(antenna.Spectrum(out, l, *wireVelocity, antenna.OPEN_END, 5)))
	}

	err = cc.Enable(ctx, div)
	if errors.Is(err, context.Canceled) {
		log.Printf("Cancelled while enabling: %v", err)
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(pr.stderr, "Couldn't enable clock: %v\n", err)
		return exitHardware
	}
	fmt.Fprintln(pr.stdout, "Running! Ctrl+C to stop!")
	cc.Run(ctx)
	return exitOK
}

func detectPeriphBase() (uintptr, error) {
	if *periphBase != 0 {
		return uintptr(*periphBase), nil
	}
	b, err := rpi.DetectBoard()
	if err != nil {
		log.Printf("Couldn't detect board, assuming peripherals at %08X: %v", rpi.PERIPH_BASE_DEFAULT, err)
		return rpi.PERIPH_BASE_DEFAULT, nil
	}
	log.Printf("Detected %s, peripherals at %08X", b.Name, b.PeriphBase)
	return b.PeriphBase, nil
}

func openMem() (rpi.Mapper, error) {
	switch *backend {
	case "devmem":
		return rpi.OpenDevMem(*memDev)
	case "pmem":
		return rpi.PMem{}, nil
	}
	return nil, errors.Errorf("unrecognized backend: %v", *backend)
}

func main() {
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	cfg := rpi.Config{
		Pin:         *pin,
		Harmonic:    *harmonic,
		BusyTimeout: *busyTimeout,
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid flags: %v\n", err)
		os.Exit(exitBadFlags)
	}
	if *backend != "devmem" && *backend != "pmem" {
		fmt.Fprintf(os.Stderr, "Unrecognized backend: %v\n", *backend)
		os.Exit(exitBadFlags)
	}

	pr := &pinRadio{
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		freq:       float64(freq) / float64(physic.Hertz),
		cfg:        cfg,
		notify: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
		},
		periphBase: detectPeriphBase,
		openMem:    openMem,
	}
	os.Exit(pr.run(context.Background()))
}
