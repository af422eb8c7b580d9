package pci

import (
	"fmt"
	"strconv"
	"strings"
)

// AddressError reports that a value or a parsed string does not fit the
// PCI address space's bit-width constraints.
type AddressError struct {
	Input string
	Cause string
}

func (e *AddressError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("pci: invalid address: %s", e.Cause)
	}
	return fmt.Sprintf("pci: invalid address %q: %s", e.Input, e.Cause)
}

// BusNum is an 8-bit PCI bus identifier, range [0, 255].
type BusNum uint8

// NewBusNum always succeeds: every uint8 fits the 8-bit bus field. The
// constructor exists so BusNum is constructed the same way as DevNum and
// FuncNum, and so a future narrower bus range has one call site to change.
func NewBusNum(n uint8) BusNum {
	return BusNum(n)
}

func (b BusNum) Get() uint8 { return uint8(b) }

// DevNum is a 5-bit PCI device identifier, range [0, 31].
type DevNum uint8

func NewDevNum(n uint8) (DevNum, error) {
	if n > maskDev {
		return 0, &AddressError{Cause: fmt.Sprintf("device number %d exceeds 5-bit width", n)}
	}
	return DevNum(n), nil
}

func (d DevNum) Get() uint8 { return uint8(d) }

// FuncNum is a 3-bit PCI function identifier, range [0, 7].
type FuncNum uint8

func NewFuncNum(n uint8) (FuncNum, error) {
	if n > maskFunc {
		return 0, &AddressError{Cause: fmt.Sprintf("function number %d exceeds 3-bit width", n)}
	}
	return FuncNum(n), nil
}

func (f FuncNum) Get() uint8 { return uint8(f) }

// BusLocation is the address of a function on a given bus: (device,
// function).
type BusLocation struct {
	Dev  DevNum
	Func FuncNum
}

func NewBusLocation(dev, fn uint8) (BusLocation, error) {
	d, err := NewDevNum(dev)
	if err != nil {
		return BusLocation{}, err
	}
	f, err := NewFuncNum(fn)
	if err != nil {
		return BusLocation{}, err
	}
	return BusLocation{Dev: d, Func: f}, nil
}

// Bdf is a bus/device/function triple, the address of a PCI or PCIe
// function. Once constructed it always satisfies the width constraints of
// every field; no other code needs to re-check.
type Bdf struct {
	Bus      BusNum
	Location BusLocation
}

// NewBdf constructs a Bdf, failing iff dev or func is out of range.
func NewBdf(bus, dev, fn uint8) (Bdf, error) {
	loc, err := NewBusLocation(dev, fn)
	if err != nil {
		return Bdf{}, err
	}
	return Bdf{Bus: NewBusNum(bus), Location: loc}, nil
}

func (b Bdf) Dev() DevNum   { return b.Location.Dev }
func (b Bdf) Func() FuncNum { return b.Location.Func }

// String renders the Bdf in "B.D.F" decimal dot-separated form.
func (b Bdf) String() string {
	return fmt.Sprintf("%d.%d.%d", b.Bus.Get(), b.Location.Dev.Get(), b.Location.Func.Get())
}

// Less reports whether b sorts before other under lexicographic
// (bus, device, function) ordering.
func (b Bdf) Less(other Bdf) bool {
	if b.Bus != other.Bus {
		return b.Bus < other.Bus
	}
	if b.Location.Dev != other.Location.Dev {
		return b.Location.Dev < other.Location.Dev
	}
	return b.Location.Func < other.Location.Func
}

// ParseBdf parses the "B.D.F" decimal dot-separated form produced by
// String. It rejects any input that is not exactly three non-negative
// decimal fields, or any field that exceeds its bit width.
func ParseBdf(s string) (Bdf, error) {
	fields := strings.Split(s, ".")
	if len(fields) != 3 {
		return Bdf{}, &AddressError{Input: s, Cause: "expected exactly three dot-separated fields"}
	}

	var nums [3]uint8
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 8)
		if err != nil {
			return Bdf{}, &AddressError{Input: s, Cause: fmt.Sprintf("field %q is not a valid non-negative 8-bit integer", f)}
		}
		nums[i] = uint8(n)
	}

	bdf, err := NewBdf(nums[0], nums[1], nums[2])
	if err != nil {
		return Bdf{}, &AddressError{Input: s, Cause: err.Error()}
	}
	return bdf, nil
}

// PciPath is the external tri-tuple the typed configuration layer passes
// around. BdfFromPciPath is the sole conversion point into this package's
// Bdf, and fails the same way NewBdf does when a field doesn't fit.
type PciPath struct {
	Bus      uint8
	Device   uint8
	Function uint8
}

// BdfFromPciPath converts an external PciPath into a Bdf, failing iff any
// field exceeds its bit width.
func BdfFromPciPath(p PciPath) (Bdf, error) {
	return NewBdf(p.Bus, p.Device, p.Function)
}
