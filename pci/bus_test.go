package pci

import "testing"

type fakePin struct {
	asserted bool
}

func (p *fakePin) Assert()   { p.asserted = true }
func (p *fakePin) Deassert() { p.asserted = false }

type fakeRouter struct {
	pins map[uint32]*fakePin
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{pins: make(map[uint32]*fakePin)}
}

func (r *fakeRouter) PinFor(line uint32) (IntrPin, error) {
	p, ok := r.pins[line]
	if !ok {
		p = &fakePin{}
		r.pins[line] = p
	}
	return p, nil
}

func TestBusCfgRWMiss(t *testing.T) {
	bus := NewBus(newFakeRouter())
	bdf, _ := NewBdf(0, 1, 0)

	buf := make([]byte, 4)
	op := NewReadOp(0, buf)
	if hit := bus.CfgRW(bdf, op); hit {
		t.Fatalf("expected miss on unregistered bdf")
	}
	for _, b := range buf {
		if b != 0xff {
			t.Fatalf("expected buffer filled with 0xff, got %x", buf)
		}
	}

	wbuf := []byte{1, 2, 3, 4}
	wop := NewWriteOp(0, wbuf)
	if hit := bus.CfgRW(bdf, wop); hit {
		t.Fatalf("expected miss on unregistered bdf")
	}
}

func TestBusAttachAndCfgRWHit(t *testing.T) {
	bus := NewBus(newFakeRouter())
	bdf, _ := NewBdf(0, 0, 0)

	var attached Attachment
	endpoint := StubEndpoint{
		AttachFunc: func(a Attachment) { attached = a },
		CfgRWFunc: func(op RWOp) {
			if ro, ok := op.(*ReadOp); ok && op.Offset() == 0 {
				ro.Buf()[0] = 0x42
			}
		},
	}
	bus.Attach(bdf, endpoint)

	if !attached.HasLintr {
		t.Fatalf("expected routed INTx pin on attach")
	}
	if attached.IntxPin != INTA {
		t.Fatalf("expected INTA for function 0, got %v", attached.IntxPin)
	}

	buf := []byte{0}
	op := NewReadOp(0, buf)
	if hit := bus.CfgRW(bdf, op); !hit {
		t.Fatalf("expected hit for attached bdf")
	}
	if buf[0] != 0x42 {
		t.Fatalf("expected 0x42, got %#x", buf[0])
	}
}

func TestBusDoubleAttachPanics(t *testing.T) {
	bus := NewBus(newFakeRouter())
	bdf, _ := NewBdf(0, 2, 0)
	bus.Attach(bdf, StubEndpoint{})

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on double attach")
		}
	}()
	bus.Attach(bdf, StubEndpoint{})
}

func TestBusBarRWMiss(t *testing.T) {
	bus := NewBus(newFakeRouter())
	bdf, _ := NewBdf(0, 3, 0)

	buf := make([]byte, 4)
	op := NewReadOp(0, buf)
	if hit := bus.BarRW(bdf, BAR0, op); hit {
		t.Fatalf("expected miss on unregistered bdf")
	}
	for _, b := range buf {
		if b != 0xff {
			t.Fatalf("expected buffer filled with 0xff, got %x", buf)
		}
	}
}

func TestBusDevicesOrder(t *testing.T) {
	bus := NewBus(newFakeRouter())
	first, _ := NewBdf(0, 0, 0)
	second, _ := NewBdf(0, 1, 0)
	bus.Attach(first, StubEndpoint{})
	bus.Attach(second, StubEndpoint{})

	devices := bus.Devices()
	if len(devices) != 2 || devices[0].Bdf != first || devices[1].Bdf != second {
		t.Fatalf("unexpected device order: %v", devices)
	}
}

func TestRouteINTxLineAttachScenario(t *testing.T) {
	// spec.md scenario 7.
	bus := NewBus(newFakeRouter())
	bdf, _ := NewBdf(0, 31, 0)

	var attached Attachment
	bus.Attach(bdf, StubEndpoint{AttachFunc: func(a Attachment) { attached = a }})

	if attached.IntxPin != INTA {
		t.Fatalf("expected INTA, got %v", attached.IntxPin)
	}
	line := RouteINTxLine(bdf.Dev(), attached.IntxPin)
	if line != 20 {
		t.Fatalf("expected platform line 20, got %d", line)
	}
}
