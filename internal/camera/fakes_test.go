package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/events"
	"github.com/nerrad567/gray-logic-vision/internal/pose"
)

var errUnplugged = errors.New("usb: device unplugged")

type fakeDevice struct {
	mu         sync.Mutex
	info       Info
	connected  bool
	connectErr error
	connects   int
}

func newFakeDevice(serial string) *fakeDevice {
	return &fakeDevice{info: Info{SerialNumber: serial, Model: "zivid2PlusM60", FirmwareVersion: "2.13.1"}}
}

func (d *fakeDevice) Info() Info { return d.info }

func (d *fakeDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDevice) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connected = true
	return nil
}

func (d *fakeDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

// unplug simulates a cable pull: the handle reports disconnected and can
// no longer connect.
func (d *fakeDevice) unplug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.connectErr = errUnplugged
}

type fakeDriver struct {
	mu         sync.Mutex
	visible    []*fakeDevice
	enumerates int
	err        error
}

func (f *fakeDriver) Enumerate(context.Context) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enumerates++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Device, 0, len(f.visible))
	for _, d := range f.visible {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDriver) Version() string { return "2.13.1-fake" }

func (f *fakeDriver) enumerations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enumerates
}

type fakeFrame struct {
	downsampled Downsampling
	released    bool
}

func (f *fakeFrame) Downsample(d Downsampling) error {
	f.downsampled = d
	return nil
}

func (f *fakeFrame) Encode(w io.Writer, format Format) error {
	_, err := fmt.Fprintf(w, "%s|%s", format, f.downsampled)
	return err
}

func (f *fakeFrame) Release() { f.released = true }

type fakeCapturer struct {
	last     Settings
	last2D   string
	frame    *fakeFrame
	err      error
	captures int
}

func (c *fakeCapturer) Capture(_ context.Context, _ Device, s Settings) (Frame, error) {
	c.captures++
	c.last = s
	if c.err != nil {
		return nil, c.err
	}
	c.frame = &fakeFrame{}
	return c.frame, nil
}

func (c *fakeCapturer) Capture2D(_ context.Context, _ Device, path string) (Frame, error) {
	c.captures++
	c.last2D = path
	if c.err != nil {
		return nil, c.err
	}
	c.frame = &fakeFrame{}
	return c.frame, nil
}

type fakeDetection struct {
	valid bool
	pose  pose.Pose
}

func (d fakeDetection) Valid() bool      { return d.valid }
func (d fakeDetection) Feedback() string { return "" }
func (d fakeDetection) Pose() pose.Pose  { return d.pose }

type fakeDetector struct {
	result fakeDetection
}

func (d *fakeDetector) Detect(context.Context, Device) (Detection, error) {
	return d.result, nil
}

type fakeFirmware struct {
	upToDate         bool
	connectedOnCheck bool
	updated          int
}

func (f *fakeFirmware) UpToDate(_ context.Context, dev Device) (bool, error) {
	f.connectedOnCheck = dev.Connected()
	return f.upToDate, nil
}

func (f *fakeFirmware) Update(_ context.Context, dev Device) error {
	f.connectedOnCheck = dev.Connected()
	f.updated++
	return nil
}

// lockCheckPublisher records each event and whether the hardware lock was
// free while the event was being delivered.
type lockCheckPublisher struct {
	lock *HardwareLock

	mu      sync.Mutex
	types   []events.Type
	blocked []events.Type
}

func (p *lockCheckPublisher) Publish(ctx context.Context, e events.Event) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	release, err := p.lock.Acquire(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, e.Type)
	if err != nil {
		p.blocked = append(p.blocked, e.Type)
		return
	}
	release()
}

func (p *lockCheckPublisher) snapshot() (types, blocked []events.Type) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Type{}, p.types...), append([]events.Type{}, p.blocked...)
}
