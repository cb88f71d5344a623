package camera

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_ConnectedUnknownSerial(t *testing.T) {
	driver := &fakeDriver{}
	reg := NewRegistry(driver)

	_, err := reg.Connected(context.Background(), "UNKNOWN")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Connected() error = %v, want ErrNotFound", err)
	}
	if got := driver.enumerations(); got != 1 {
		t.Errorf("enumerations = %d, want exactly 1 refresh", got)
	}
}

func TestRegistry_ConnectedDiscoversAndConnects(t *testing.T) {
	dev := newFakeDevice("cam-1")
	driver := &fakeDriver{visible: []*fakeDevice{dev}}
	reg := NewRegistry(driver)

	got, err := reg.Connected(context.Background(), "cam-1")
	if err != nil {
		t.Fatalf("Connected() error = %v", err)
	}
	if !got.Connected() {
		t.Error("returned handle is not connected")
	}

	// Cached and connected: no further enumeration or connect.
	if _, err := reg.Connected(context.Background(), "cam-1"); err != nil {
		t.Fatalf("second Connected() error = %v", err)
	}
	if driver.enumerations() != 1 || dev.connects != 1 {
		t.Errorf("enumerations=%d connects=%d, want 1 and 1", driver.enumerations(), dev.connects)
	}
}

func TestRegistry_EvictsHandleThatCannotReconnect(t *testing.T) {
	ctx := context.Background()
	dev := newFakeDevice("cam-1")
	driver := &fakeDriver{visible: []*fakeDevice{dev}}
	reg := NewRegistry(driver)

	if _, err := reg.Connected(ctx, "cam-1"); err != nil {
		t.Fatalf("Connected() error = %v", err)
	}

	dev.unplug()
	_, err := reg.Connected(ctx, "cam-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Connected() error = %v, want ErrNotFound", err)
	}
	if !errors.Is(err, errUnplugged) {
		t.Errorf("Connected() error = %v, want cause preserved", err)
	}
	if reg.Len() != 0 {
		t.Errorf("registry still caches %v after failed reconnect", reg.Serials())
	}

	// The next lookup re-discovers instead of reusing the failing handle.
	replacement := newFakeDevice("cam-1")
	driver.mu.Lock()
	driver.visible = []*fakeDevice{replacement}
	driver.mu.Unlock()
	before := driver.enumerations()

	got, err := reg.Connected(ctx, "cam-1")
	if err != nil {
		t.Fatalf("Connected() after replug error = %v", err)
	}
	if got != Device(replacement) {
		t.Error("registry returned the evicted handle")
	}
	if driver.enumerations() != before+1 {
		t.Errorf("expected one rediscovery, got %d", driver.enumerations()-before)
	}
}

func TestRegistry_ListDropsDisconnectedAndAddsNew(t *testing.T) {
	ctx := context.Background()
	a, b := newFakeDevice("cam-a"), newFakeDevice("cam-b")
	driver := &fakeDriver{visible: []*fakeDevice{a}}
	reg := NewRegistry(driver)

	if _, err := reg.Connected(ctx, "cam-a"); err != nil {
		t.Fatalf("Connected() error = %v", err)
	}

	// cam-a drops off the bus, cam-b appears.
	a.unplug()
	driver.mu.Lock()
	driver.visible = []*fakeDevice{b}
	driver.mu.Unlock()

	devices, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var serials []string
	for _, d := range devices {
		serials = append(serials, d.Info().SerialNumber)
	}
	if diff := cmp.Diff([]string{"cam-b"}, serials); diff != "" {
		t.Errorf("List() serials mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_ListKeepsExistingHandles(t *testing.T) {
	ctx := context.Background()
	a := newFakeDevice("cam-a")
	driver := &fakeDriver{visible: []*fakeDevice{a}}
	reg := NewRegistry(driver)

	first, err := reg.Connected(ctx, "cam-a")
	if err != nil {
		t.Fatalf("Connected() error = %v", err)
	}

	// Enumeration hands back a fresh handle for the same serial.
	driver.mu.Lock()
	driver.visible = []*fakeDevice{newFakeDevice("cam-a"), newFakeDevice("cam-c")}
	driver.mu.Unlock()

	devices, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 2 || devices[0] != first {
		t.Errorf("List() did not keep the connected cached handle")
	}
}

func TestRegistry_EnumerationFailure(t *testing.T) {
	driver := &fakeDriver{err: errors.New("sdk not initialised")}
	reg := NewRegistry(driver)

	_, err := reg.List(context.Background())
	if !errors.Is(err, ErrHardwareFault) {
		t.Errorf("List() error = %v, want ErrHardwareFault", err)
	}
}

func TestRegistry_Fault(t *testing.T) {
	ctx := context.Background()
	dev := newFakeDevice("cam-1")
	reg := NewRegistry(&fakeDriver{visible: []*fakeDevice{dev}})
	if _, err := reg.Connected(ctx, "cam-1"); err != nil {
		t.Fatalf("Connected() error = %v", err)
	}

	t.Run("invalid capture keeps handle", func(t *testing.T) {
		err := reg.Fault(ctx, "cam-1", ErrInvalidCapture)
		if !errors.Is(err, ErrInvalidCapture) || errors.Is(err, ErrHardwareFault) {
			t.Errorf("Fault() = %v", err)
		}
		if reg.Len() != 1 {
			t.Error("handle evicted for a benign error")
		}
	})

	t.Run("command failure evicts", func(t *testing.T) {
		cause := errors.New("projector overheated")
		err := reg.Fault(ctx, "cam-1", cause)
		if !errors.Is(err, ErrHardwareFault) || !errors.Is(err, cause) {
			t.Errorf("Fault() = %v, want ErrHardwareFault wrapping cause", err)
		}
		if reg.Len() != 0 {
			t.Error("handle not evicted after command failure")
		}
	})
}

func TestRegistry_Disconnect(t *testing.T) {
	ctx := context.Background()
	dev := newFakeDevice("cam-1")
	reg := NewRegistry(&fakeDriver{visible: []*fakeDevice{dev}})

	if _, err := reg.Connected(ctx, "cam-1"); err != nil {
		t.Fatalf("Connected() error = %v", err)
	}
	if err := reg.Disconnect(ctx, "cam-1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if dev.Connected() {
		t.Error("device still connected")
	}
	// Disconnecting an idle camera is a no-op.
	if err := reg.Disconnect(ctx, "cam-1"); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
	if err := reg.Disconnect(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Disconnect(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_CancelledConnectKeepsHandle(t *testing.T) {
	ctx := context.Background()
	dev := newFakeDevice("cam-1")
	reg := NewRegistry(&fakeDriver{visible: []*fakeDevice{dev}})
	lock := NewHardwareLock(0)
	pub := &lockCheckPublisher{lock: lock}
	reg.SetPublisher(pub)

	if _, err := reg.Connected(ctx, "cam-1"); err != nil {
		t.Fatalf("Connected() error = %v", err)
	}
	if err := dev.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	for _, cause := range []error{context.Canceled, context.DeadlineExceeded} {
		dev.mu.Lock()
		dev.connectErr = fmt.Errorf("opening usb link: %w", cause)
		dev.mu.Unlock()

		_, err := reg.Connected(ctx, "cam-1")
		if !errors.Is(err, ErrHardwareBusy) || !errors.Is(err, cause) {
			t.Errorf("Connected() error = %v, want ErrHardwareBusy wrapping %v", err, cause)
		}
		if errors.Is(err, ErrNotFound) {
			t.Errorf("Connected() error = %v reports the camera as gone", err)
		}
		if reg.Len() != 1 {
			t.Errorf("handle evicted after %v", cause)
		}
	}
	if types, _ := pub.snapshot(); len(types) != 0 {
		t.Errorf("events = %v, want none", types)
	}

	dev.mu.Lock()
	dev.connectErr = nil
	dev.mu.Unlock()
	if _, err := reg.Connected(ctx, "cam-1"); err != nil {
		t.Errorf("Connected() after cancelled attempts error = %v", err)
	}
}
