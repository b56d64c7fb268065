// Package antenna models what a square wave on a bare wire radiates.
//
// A GPIO clock is a square wave, so it carries odd harmonics k of the base
// frequency f0 with amplitude 4/(πk). An open-ended wire reflects the wave
// back after a round trip of 2L/v, and each harmonic k adds to its own
// reflection with a phase shift of 2πk·f0·2L/v. Picking L = v/(6·f0) puts the
// third harmonic back in phase with itself, doubling it.
package antenna

import (
	"fmt"
	"math"
	"math/cmplx"
	"periph.io/x/conn/v3/physic"
	"strings"
)

const (
	WIRE_VELOCITY = 2e8 // m/s, typical for insulated copper

	OPEN_END    = 1.0
	SHORTED_END = -1.0
)

// OptimalLength is the wire length, in metres, that maximises the third
// harmonic of base frequency f0 for propagation speed v.
func OptimalLength(f0, v float64) float64 {
	return v / (6 * f0)
}

type Harmonic struct {
	K         int
	Freq      float64 // Hz
	Amplitude float64 // relative to a unit square wave
}

func (h Harmonic) String() string {
	return fmt.Sprintf("%2d  %-12s %.4f", h.K, Frequency(h.Freq), h.Amplitude)
}

// Spectrum returns the first n odd harmonics of a unit square wave at f0 on a
// wire of the given length, with a reflection of coefficient gamma (OPEN_END,
// SHORTED_END or anything between).
func Spectrum(f0, length, v, gamma float64, n int) []Harmonic {
	tau := 2 * length / v
	hs := make([]Harmonic, 0, n)
	for i := 0; i < n; i++ {
		k := 2*i + 1
		phi := 2 * math.Pi * float64(k) * f0 * tau
		a := 4 / (math.Pi * float64(k))
		hs = append(hs, Harmonic{
			K:         k,
			Freq:      float64(k) * f0,
			Amplitude: a * cmplx.Abs(1+complex(gamma, 0)*cmplx.Exp(complex(0, -phi))),
		})
	}
	return hs
}

// Strongest returns the harmonic with the largest amplitude.
func Strongest(hs []Harmonic) (Harmonic, bool) {
	if len(hs) == 0 {
		return Harmonic{}, false
	}
	best := hs[0]
	for _, h := range hs[1:] {
		if h.Amplitude > best.Amplitude {
			best = h
		}
	}
	return best, true
}

// Table formats hs one harmonic per line.
func Table(hs []Harmonic) string {
	var b strings.Builder
	b.WriteString(" k  freq         amplitude\n")
	for _, h := range hs {
		b.WriteString(h.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Frequency formats hz the way periph does, e.g. "33.333MHz".
func Frequency(hz float64) physic.Frequency {
	return physic.Frequency(math.Round(hz * float64(physic.Hertz)))
}

// Distance formats metres the way periph does, e.g. "25cm".
func Distance(m float64) physic.Distance {
	return physic.Distance(math.Round(m * float64(physic.Metre)))
}
