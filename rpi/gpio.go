package rpi

import (
	"github.com/pkg/errors"
	"log"
)

const (
	GPIO_OFFSET  = uintptr(0x00200000)
	GPIO_FSEL0   = 0 // word offset of the first of six GPFSEL registers
	GPIO_MAX_PIN = 53

	GPIO_FSEL_INPUT  = 0
	GPIO_FSEL_OUTPUT = 1
	GPIO_FSEL_MASK   = 0x7
)

// See p92 in datasheet - these are the alt functions only
var altFunctions = []uint32{4, 5, 6, 7, 3, 2}

func fselReg(pin int) (int, uint) {
	return GPIO_FSEL0 + pin/10, uint((pin % 10) * 3)
}

// SetPinFunction does a read-modify-write of pin's 3-bit field in its GPFSEL
// register. Nothing else may be writing GPFSEL concurrently.
func SetPinFunction(w Window, pin int, fnc uint32) error {
	if pin < 0 || pin > GPIO_MAX_PIN { // p94
		return errors.Errorf("pin %d not supported", pin)
	}
	if fnc > GPIO_FSEL_MASK {
		return errors.Errorf("%d is an invalid pin function", fnc)
	}
	reg, offset := fselReg(pin)
	v := w.ReadWord(reg)
	v &^= GPIO_FSEL_MASK << offset
	v |= fnc << offset
	w.WriteWord(reg, v)
	log.Printf("GPFSEL%d = %08X (pin %d fn %d)\n", reg-GPIO_FSEL0, v, pin, fnc)
	return nil
}

// PinFunction returns the raw 3-bit function code currently selected for pin.
func PinFunction(w Window, pin int) (uint32, error) {
	if pin < 0 || pin > GPIO_MAX_PIN {
		return 0, errors.Errorf("pin %d not supported", pin)
	}
	reg, offset := fselReg(pin)
	return (w.ReadWord(reg) >> offset) & GPIO_FSEL_MASK, nil
}

func SetAltFunction(w Window, pin int, alt int) error {
	if alt < 0 || alt >= len(altFunctions) {
		return errors.Errorf("%d is an invalid alt function", alt)
	}
	return SetPinFunction(w, pin, altFunctions[alt])
}
