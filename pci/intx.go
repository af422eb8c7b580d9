package pci

import "fmt"

// INTxPinID identifies one of the four legacy wire-OR interrupt pins a
// function may assert.
type INTxPinID uint8

const (
	INTA INTxPinID = iota + 1
	INTB
	INTC
	INTD
)

func (p INTxPinID) String() string {
	switch p {
	case INTA:
		return "INTA"
	case INTB:
		return "INTB"
	case INTC:
		return "INTC"
	case INTD:
		return "INTD"
	default:
		return fmt.Sprintf("INTx(%d)", uint8(p))
	}
}

// IntxPinForFunc returns the INTx pin a given function number asserts
// through: function 0 is INTA, 1 is INTB, ... wrapping every four
// functions.
func IntxPinForFunc(fn FuncNum) INTxPinID {
	return INTxPinID((uint8(fn) % 4) + 1)
}

// RouteINTxLine computes the platform interrupt line a device's INTx pin is
// wired to. This formula must be preserved bit-for-bit: guest firmware
// routing tables depend on it.
func RouteINTxLine(dev DevNum, pin INTxPinID) uint32 {
	return 16 + ((4 + uint32(dev.Get()) + uint32(pin)) % 8)
}

// IntrPin is the platform interrupt line a routed device drives. Assert and
// Deassert model the level-triggered semantics of a wire-OR'd INTx pin:
// Assert raises the line, Deassert lowers it, and a device may call either
// any number of times.
type IntrPin interface {
	Assert()
	Deassert()
}

// IntrRouter resolves a platform interrupt line number into the concrete
// pin that drives it. The bus holds one of these for the lifetime of the
// VM; it is supplied once at construction because the interrupt controller
// outlives the bus by construction.
type IntrRouter interface {
	PinFor(line uint32) (IntrPin, error)
}

// IntrRouterFunc adapts a plain function to IntrRouter.
type IntrRouterFunc func(line uint32) (IntrPin, error)

func (f IntrRouterFunc) PinFor(line uint32) (IntrPin, error) { return f(line) }

// noopIntrPin discards every assert/deassert; useful for endpoints attached
// without a routable line (e.g. function 0 of a bridge with no INTx use).
type noopIntrPin struct{}

func (noopIntrPin) Assert()   {}
func (noopIntrPin) Deassert() {}

// NoopIntrPin returns an IntrPin that drops every signal.
func NoopIntrPin() IntrPin { return noopIntrPin{} }
