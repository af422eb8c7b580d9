package pci

import (
	"fmt"
	"log/slog"
	"sync"
)

type entry struct {
	bdf      Bdf
	endpoint Endpoint
}

// Bus is the bus registry: a concurrent mapping from Bdf to attached
// endpoint, plus the policy that routes a device's INTx pin to a platform
// interrupt line. It is created once per emulated host bridge and lives
// for the VM's lifetime; entries are append-only.
type Bus struct {
	mu     sync.RWMutex
	router IntrRouter
	byBdf  map[Bdf]*entry
	order  []Bdf
}

// NewBus constructs an empty bus routed through router. router is consulted
// once per Attach to resolve a device's INTx pin into a concrete platform
// line; it must outlive the Bus.
func NewBus(router IntrRouter) *Bus {
	return &Bus{
		router: router,
		byBdf:  make(map[Bdf]*entry),
	}
}

// Attach inserts endpoint at bdf and invokes its Attach callback with a
// bus-supplied attachment value, including a routed INTx pin when the
// router resolves one. Attach panics if bdf is already present: a double
// attach is a programmer error, and it is preferable to crash loudly than
// to silently shadow a device.
func (b *Bus) Attach(bdf Bdf, endpoint Endpoint) {
	b.mu.Lock()
	if _, exists := b.byBdf[bdf]; exists {
		b.mu.Unlock()
		panic(fmt.Sprintf("pci: device already attached at %s", bdf))
	}
	e := &entry{bdf: bdf, endpoint: endpoint}
	b.byBdf[bdf] = e
	b.order = append(b.order, bdf)
	b.mu.Unlock()

	attachment := b.route(bdf)
	endpoint.Attach(attachment)
}

func (b *Bus) route(bdf Bdf) Attachment {
	pinID := IntxPinForFunc(bdf.Func())
	if b.router == nil {
		return Attachment{IntxPin: pinID}
	}
	line := RouteINTxLine(bdf.Dev(), pinID)
	pin, err := b.router.PinFor(line)
	if err != nil {
		slog.Warn("pci: failed to route INTx line", "bdf", bdf.String(), "line", line, "err", err)
		return Attachment{IntxPin: pinID}
	}
	return Attachment{IntxPin: pinID, Lintr: pin, HasLintr: true}
}

// Lookup returns the endpoint registered at bdf, if any.
func (b *Bus) Lookup(bdf Bdf) (Endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.byBdf[bdf]
	if !ok {
		return nil, false
	}
	return e.endpoint, true
}

// DeviceEntry is one attached (Bdf, Endpoint) pair, as returned by Devices.
type DeviceEntry struct {
	Bdf      Bdf
	Endpoint Endpoint
}

// Devices returns every attached device in attach order.
func (b *Bus) Devices() []DeviceEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]DeviceEntry, 0, len(b.order))
	for _, bdf := range b.order {
		out = append(out, DeviceEntry{Bdf: bdf, Endpoint: b.byBdf[bdf].endpoint})
	}
	return out
}

// CfgRW forwards op to the endpoint at bdf. If no endpoint is registered,
// it applies the absent-device policy: reads fill the buffer with 0xff,
// writes are dropped. The returned bool reports whether an endpoint was
// present, so callers can apply the same policy uniformly on a miss
// without duplicating it.
func (b *Bus) CfgRW(bdf Bdf, op RWOp) bool {
	endpoint, ok := b.Lookup(bdf)
	if !ok {
		applyAbsentDevicePolicy(op)
		return false
	}
	endpoint.CfgRW(op)
	return true
}

// BarRW forwards op to the endpoint's BAR handler at bdf. An absent
// endpoint behaves identically to CfgRW's miss policy.
func (b *Bus) BarRW(bdf Bdf, bar BarN, op RWOp) bool {
	endpoint, ok := b.Lookup(bdf)
	if !ok {
		applyAbsentDevicePolicy(op)
		return false
	}
	endpoint.BarRW(bar, op)
	return true
}

// applyAbsentDevicePolicy fills reads with 0xff and silently drops writes,
// the hardware contract for an address with no responder.
func applyAbsentDevicePolicy(op RWOp) {
	if ro, ok := op.(*ReadOp); ok {
		ro.Fill(0xff)
	}
}
