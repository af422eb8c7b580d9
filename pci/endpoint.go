package pci

// Attachment is what the bus hands an endpoint's Attach at attach time: the
// routed INTx pin, when one was assigned. Lintr is nil for an endpoint
// attached without interrupt routing.
type Attachment struct {
	IntxPin  INTxPinID
	Lintr    IntrPin
	HasLintr bool
}

// Endpoint is the contract every attached PCI/PCIe device implements. It is
// safe to call from any thread: the bus may dispatch accesses from
// multiple vCPU threads concurrently.
type Endpoint interface {
	// Attach is called exactly once, synchronously, before Bus.Attach
	// returns. The endpoint should capture attachment.Lintr if it intends
	// to raise interrupts.
	Attach(attachment Attachment)

	// CfgRW handles a read or write within this function's configuration
	// space. Reads of unimplemented bytes must return 0xff; writes to
	// read-only bytes must be dropped. op.Offset() may be anywhere in
	// [0, 4096). op.Len() is usually 1, 2, or 4, but the ECAM decoder
	// passes through an access of any length that stays within one
	// function.
	CfgRW(op RWOp)

	// BarRW handles a read or write into the named BAR's aperture. A
	// device that does not expose bar must treat reads as 0xff and drop
	// writes.
	BarRW(bar BarN, op RWOp)
}

// StubEndpoint adapts plain functions to Endpoint, for tests and for
// minimal functions that don't need the full contract spelled out.
type StubEndpoint struct {
	AttachFunc func(attachment Attachment)
	CfgRWFunc  func(op RWOp)
	BarRWFunc  func(bar BarN, op RWOp)
}

func (s StubEndpoint) Attach(attachment Attachment) {
	if s.AttachFunc != nil {
		s.AttachFunc(attachment)
	}
}

func (s StubEndpoint) CfgRW(op RWOp) {
	if s.CfgRWFunc != nil {
		s.CfgRWFunc(op)
		return
	}
	if ro, ok := op.(*ReadOp); ok {
		ro.Fill(0xff)
	}
}

func (s StubEndpoint) BarRW(bar BarN, op RWOp) {
	if s.BarRWFunc != nil {
		s.BarRWFunc(bar, op)
		return
	}
	if ro, ok := op.(*ReadOp); ok {
		ro.Fill(0xff)
	}
}

var _ Endpoint = StubEndpoint{}
