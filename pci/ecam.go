package pci

import (
	"fmt"
	"math/bits"

	"github.com/tinyrange/vmpci/internal/hv"
)

const (
	ecamDevShift  = 15
	ecamFuncShift = 12
)

// EcamConfig describes the MMIO window an PcieCfgDecoder is responsible
// for: its guest-physical base address and the number of buses it covers.
type EcamConfig struct {
	Base     uint64
	BusCount uint16
}

// PcieCfgDecoder translates an offset inside a memory-mapped ECAM window
// into a (Bdf, cfg_offset) pair. It is stateless apart from its bus-count
// parameter.
type PcieCfgDecoder struct {
	busMask uint8
}

// NewEcamDecoder constructs a decoder covering busCount buses. busCount must
// be a power of two in the closed range [1, 256].
func NewEcamDecoder(busCount uint16) (*PcieCfgDecoder, error) {
	if busCount < ecamMinBuses || busCount > ecamMaxBuses {
		return nil, fmt.Errorf("pci: ECAM bus_count %d outside supported range [%d, %d]", busCount, ecamMinBuses, ecamMaxBuses)
	}
	if bits.OnesCount16(busCount) != 1 {
		return nil, fmt.Errorf("pci: ECAM bus_count %d is not a power of two", busCount)
	}
	return &PcieCfgDecoder{busMask: uint8(busCount - 1)}, nil
}

// Service decodes a region-relative access and dispatches a child access at
// the device-relative configuration offset. If the access straddles a
// device boundary (its first and last byte decode to different Bdf
// values), the access is fully suppressed: reads are filled with 0xff,
// writes are dropped, and dispatch is never invoked.
func (d *PcieCfgDecoder) Service(regionOffset int, op RWOp, dispatch func(bdf Bdf, child RWOp) bool) {
	if op.Len() == 0 {
		panic("pci: ECAM access length must be non-zero")
	}

	startBdf, cfgOff := d.decodeOffset(regionOffset)
	endBdf, _ := d.decodeOffset(regionOffset + op.Len() - 1)
	if startBdf != endBdf {
		applyAbsentDevicePolicy(op)
		return
	}

	switch o := op.(type) {
	case *ReadOp:
		child := NewChildRead(cfgOff, o)
		if hit := dispatch(startBdf, child); !hit {
			child.Fill(0xff)
		}
	case *WriteOp:
		child := NewChildWrite(cfgOff, o)
		dispatch(startBdf, child)
	}
}

// decodeOffset decomposes a region-relative byte offset into the Bdf and
// the device-relative configuration space offset it addresses.
func (d *PcieCfgDecoder) decodeOffset(regionOffset int) (Bdf, int) {
	bus := uint8(regionOffset>>20) & d.busMask
	dev := uint8(regionOffset>>ecamDevShift) & maskDev
	fn := uint8(regionOffset>>ecamFuncShift) & maskFunc
	cfgOffset := regionOffset & ecamCfgOffsetMask
	// bus/dev/fn are already masked to their field widths, so NewBdf
	// cannot fail here.
	bdf, _ := NewBdf(bus, dev, fn)
	return bdf, cfgOffset
}

// EcamHostBridge wires a PcieCfgDecoder and a Bus into an
// hv.MemoryMappedIODevice, the concrete instantiation of the guest-visible
// ECAM memory region.
type EcamHostBridge struct {
	decoder *PcieCfgDecoder
	bus     *Bus
	cfg     EcamConfig
}

// NewEcamHostBridge constructs a host bridge over cfg, dispatching
// config-space accesses to bus.
func NewEcamHostBridge(cfg EcamConfig, bus *Bus) (*EcamHostBridge, error) {
	decoder, err := NewEcamDecoder(cfg.BusCount)
	if err != nil {
		return nil, err
	}
	return &EcamHostBridge{decoder: decoder, bus: bus, cfg: cfg}, nil
}

func (h *EcamHostBridge) Decoder() *PcieCfgDecoder { return h.decoder }

func (h *EcamHostBridge) regionSize() uint64 {
	return uint64(h.cfg.BusCount) * ecamBytesPerBus
}

// Init implements hv.Device.
func (h *EcamHostBridge) Init(vm hv.VirtualMachine) error { return nil }

// MMIORegions implements hv.MemoryMappedIODevice.
func (h *EcamHostBridge) MMIORegions() []hv.MMIORegion {
	return []hv.MMIORegion{{Address: h.cfg.Base, Size: h.regionSize()}}
}

// ReadMMIO implements hv.MemoryMappedIODevice.
func (h *EcamHostBridge) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	regionOffset, err := h.regionOffset(addr, len(data))
	if err != nil {
		for i := range data {
			data[i] = 0xff
		}
		return nil
	}
	op := NewReadOp(0, data)
	h.decoder.Service(regionOffset, op, func(bdf Bdf, child RWOp) bool {
		return h.bus.CfgRW(bdf, child)
	})
	return nil
}

// WriteMMIO implements hv.MemoryMappedIODevice.
func (h *EcamHostBridge) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	regionOffset, err := h.regionOffset(addr, len(data))
	if err != nil {
		return nil
	}
	op := NewWriteOp(0, data)
	h.decoder.Service(regionOffset, op, func(bdf Bdf, child RWOp) bool {
		return h.bus.CfgRW(bdf, child)
	})
	return nil
}

func (h *EcamHostBridge) regionOffset(addr uint64, length int) (int, error) {
	if addr < h.cfg.Base {
		return 0, fmt.Errorf("pci: ECAM access below region base")
	}
	offset := addr - h.cfg.Base
	if offset+uint64(length) > h.regionSize() {
		return 0, fmt.Errorf("pci: ECAM access outside region bounds")
	}
	return int(offset), nil
}

var (
	_ hv.Device               = (*EcamHostBridge)(nil)
	_ hv.MemoryMappedIODevice = (*EcamHostBridge)(nil)
)
