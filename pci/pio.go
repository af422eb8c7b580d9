package pci

import (
	"encoding/binary"
	"sync"

	"github.com/tinyrange/vmpci/internal/hv"
)

const (
	pioConfigAddressPort = 0x0cf8
	pioConfigDataPort    = 0x0cfc
)

// PioCfgDecoder services the legacy two-port configuration mechanism: an
// address latch written through port 0xCF8, and a data window at 0xCFC.
// The latch is the only mutable state the decoder owns.
type PioCfgDecoder struct {
	mu   sync.Mutex
	addr uint32
}

// NewPioCfgDecoder constructs a decoder with its address latch cleared.
func NewPioCfgDecoder() *PioCfgDecoder {
	return &PioCfgDecoder{}
}

// Addr returns the current latched address.
func (d *PioCfgDecoder) Addr() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// ServiceAddr handles an access to the address port (0xCF8). Only a
// 4-byte access at offset 0 is honored; anything else is a no-op (reads
// leave the buffer untouched, writes are dropped).
func (d *PioCfgDecoder) ServiceAddr(op RWOp) {
	if op.Len() != 4 || op.Offset() != 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch o := op.(type) {
	case *ReadOp:
		binary.LittleEndian.PutUint32(o.Buf(), d.addr)
	case *WriteOp:
		d.addr = binary.LittleEndian.Uint32(o.Buf())
	}
}

// ServiceData handles an access to the data port (0xCFC), 1/2/4 bytes at
// offsets 0..3. If the latched address's enable bit is clear, the access
// is dropped (reads leave the buffer untouched). Otherwise the latch
// decodes to a Bdf and a device-relative register offset, and dispatch is
// invoked with a child access rebased to
// cfg_off_low_byte + op.Offset(). If dispatch reports a miss, reads are
// filled with 0xff and writes have no effect.
func (d *PioCfgDecoder) ServiceData(op RWOp, dispatch func(bdf Bdf, child RWOp) bool) {
	d.mu.Lock()
	addr := d.addr
	d.mu.Unlock()

	bdf, cfgOff, ok := decodePioAddr(addr)
	if !ok {
		return
	}

	off := int(cfgOff) + op.Offset()
	switch o := op.(type) {
	case *ReadOp:
		child := NewChildRead(off, o)
		if hit := dispatch(bdf, child); !hit {
			child.Fill(0xff)
		}
	case *WriteOp:
		child := NewChildWrite(off, o)
		dispatch(bdf, child)
	}
}

func decodePioAddr(addr uint32) (Bdf, uint8, bool) {
	if addr&(1<<pioAddrEnableBit) == 0 {
		return Bdf{}, 0, false
	}
	bus := uint8(addr>>pioAddrBusShift) & maskBus
	dev := uint8(addr>>pioAddrDevShift) & maskDev
	fn := uint8(addr>>pioAddrFuncShift) & maskFunc
	offset := uint8(addr & pioAddrOffsetMask)
	// bus/dev/fn are already masked to their field widths, so NewBdf
	// cannot fail here.
	bdf, _ := NewBdf(bus, dev, fn)
	return bdf, offset, true
}

// PioHostBridge wires a PioCfgDecoder and a Bus into an hv.X86IOPortDevice,
// the concrete instantiation of the guest-visible 0xCF8/0xCFC surface.
type PioHostBridge struct {
	decoder *PioCfgDecoder
	bus     *Bus
}

// NewPioHostBridge constructs a host bridge that dispatches config-data
// accesses to bus.
func NewPioHostBridge(bus *Bus) *PioHostBridge {
	return &PioHostBridge{decoder: NewPioCfgDecoder(), bus: bus}
}

func (h *PioHostBridge) Decoder() *PioCfgDecoder { return h.decoder }

// Init implements hv.Device.
func (h *PioHostBridge) Init(vm hv.VirtualMachine) error { return nil }

// IOPorts implements hv.X86IOPortDevice.
func (h *PioHostBridge) IOPorts() []uint16 {
	return []uint16{
		pioConfigAddressPort, pioConfigAddressPort + 1, pioConfigAddressPort + 2, pioConfigAddressPort + 3,
		pioConfigDataPort, pioConfigDataPort + 1, pioConfigDataPort + 2, pioConfigDataPort + 3,
	}
}

// ReadIOPort implements hv.X86IOPortDevice.
func (h *PioHostBridge) ReadIOPort(ctx hv.ExitContext, port uint16, data []byte) error {
	switch {
	case inPortRange(port, pioConfigAddressPort, len(data)):
		op := NewReadOp(int(port-pioConfigAddressPort), data)
		h.decoder.ServiceAddr(op)
	case inPortRange(port, pioConfigDataPort, len(data)):
		op := NewReadOp(int(port-pioConfigDataPort), data)
		h.decoder.ServiceData(op, func(bdf Bdf, child RWOp) bool {
			return h.bus.CfgRW(bdf, child)
		})
	default:
		for i := range data {
			data[i] = 0xff
		}
	}
	return nil
}

// WriteIOPort implements hv.X86IOPortDevice.
func (h *PioHostBridge) WriteIOPort(ctx hv.ExitContext, port uint16, data []byte) error {
	switch {
	case inPortRange(port, pioConfigAddressPort, len(data)):
		op := NewWriteOp(int(port-pioConfigAddressPort), data)
		h.decoder.ServiceAddr(op)
	case inPortRange(port, pioConfigDataPort, len(data)):
		op := NewWriteOp(int(port-pioConfigDataPort), data)
		h.decoder.ServiceData(op, func(bdf Bdf, child RWOp) bool {
			return h.bus.CfgRW(bdf, child)
		})
	}
	return nil
}

func inPortRange(port, base uint16, length int) bool {
	return port >= base && int(port-base)+length <= 4
}

var (
	_ hv.Device          = (*PioHostBridge)(nil)
	_ hv.X86IOPortDevice = (*PioHostBridge)(nil)
)
