package camera

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/events"
	"github.com/nerrad567/gray-logic-vision/internal/pose"
)

// Capture is an encoded frame ready to return to a client.
type Capture struct {
	SerialNumber string
	Format       Format
	Data         []byte
	CapturedAt   time.Time
}

// Filename is "<serial>.<extension>".
func (c *Capture) Filename() string {
	return c.SerialNumber + "." + c.Format.Extension()
}

// CaptureRequest selects what a 3D capture returns.
type CaptureRequest struct {
	Preset     Preset
	Downsample DownsampleFactor
	Format     Format
}

// ServiceDeps holds the collaborators of a Service.
type ServiceDeps struct {
	Registry *Registry
	Lock     *HardwareLock
	Capturer Capturer
	Detector Detector
	Firmware Firmware
	Settings SettingsResolver
	Events   events.Publisher
	Logger   Logger
}

// Service implements the camera-level operations. Every method takes the
// hardware lock for its whole device interaction.
type Service struct {
	registry *Registry
	lock     *HardwareLock
	capturer Capturer
	detector Detector
	firmware Firmware
	settings SettingsResolver
	events   events.Publisher
	logger   Logger
	now      func() time.Time
}

// NewService creates a Service.
func NewService(deps ServiceDeps) *Service {
	s := &Service{
		registry: deps.Registry,
		lock:     deps.Lock,
		capturer: deps.Capturer,
		detector: deps.Detector,
		firmware: deps.Firmware,
		settings: deps.Settings,
		events:   deps.Events,
		logger:   deps.Logger,
		now:      time.Now,
	}
	if s.events == nil {
		s.events = events.Discard{}
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s
}

// DriverVersion reports the vendor SDK version.
func (s *Service) DriverVersion() string {
	return s.registry.DriverVersion()
}

// List returns every visible camera.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	devices, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(devices))
	for _, d := range devices {
		infos = append(infos, d.Info())
	}
	return infos, nil
}

// Get connects serial and returns its info.
func (s *Service) Get(ctx context.Context, serial string) (Info, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return Info{}, err
	}
	defer release()

	dev, err := s.registry.Connected(ctx, serial)
	if err != nil {
		return Info{}, err
	}
	return dev.Info(), nil
}

// Disconnect disconnects serial if it is connected.
func (s *Service) Disconnect(ctx context.Context, serial string) error {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	return s.registry.Disconnect(ctx, serial)
}

// Capture connects, captures, optionally downsamples and encodes a 3D frame
// in one critical section.
func (s *Service) Capture(ctx context.Context, serial string, req CaptureRequest) (*Capture, error) {
	settings, err := s.settings.Resolve(req.Preset)
	if err != nil {
		return nil, err
	}
	downsampling, err := req.Downsample.Downsampling()
	if err != nil {
		return nil, err
	}
	if _, ok := formats[req.Format]; !ok {
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidArgument, req.Format)
	}

	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	dev, err := s.registry.Connected(ctx, serial)
	if err != nil {
		return nil, err
	}

	frame, err := s.capturer.Capture(ctx, dev, settings)
	if err != nil {
		return nil, s.registry.Fault(ctx, serial, fmt.Errorf("capturing: %w", err))
	}
	defer frame.Release()

	if downsampling != DownsamplingNone {
		if err := frame.Downsample(downsampling); err != nil {
			return nil, s.registry.Fault(ctx, serial, fmt.Errorf("downsampling: %w", err))
		}
	}

	var buf bytes.Buffer
	if err := frame.Encode(&buf, req.Format); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", req.Format, err)
	}

	s.logger.Debug("frame captured",
		"serial_number", serial,
		"preset", string(req.Preset),
		"down_sample_factor", int(req.Downsample),
		"format", string(req.Format),
		"bytes", buf.Len(),
	)
	return &Capture{
		SerialNumber: serial,
		Format:       req.Format,
		Data:         buf.Bytes(),
		CapturedAt:   s.now().UTC(),
	}, nil
}

// Capture2D captures a color image with the default 2D settings.
func (s *Service) Capture2D(ctx context.Context, serial string) (*Capture, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	dev, err := s.registry.Connected(ctx, serial)
	if err != nil {
		return nil, err
	}

	frame, err := s.capturer.Capture2D(ctx, dev, s.settings.Settings2DPath())
	if err != nil {
		return nil, s.registry.Fault(ctx, serial, fmt.Errorf("capturing 2D: %w", err))
	}
	defer frame.Release()

	var buf bytes.Buffer
	if err := frame.Encode(&buf, FormatColorImage); err != nil {
		return nil, fmt.Errorf("encoding 2D image: %w", err)
	}
	return &Capture{
		SerialNumber: serial,
		Format:       FormatColorImage,
		Data:         buf.Bytes(),
		CapturedAt:   s.now().UTC(),
	}, nil
}

// BoardPose returns the calibration board pose in the camera frame, or
// ErrInvalidCapture with the detector feedback if the board is not seen.
func (s *Service) BoardPose(ctx context.Context, serial string) (pose.Pose, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return pose.Pose{}, err
	}
	defer release()

	dev, err := s.registry.Connected(ctx, serial)
	if err != nil {
		return pose.Pose{}, err
	}

	det, err := s.detector.Detect(ctx, dev)
	if err != nil {
		return pose.Pose{}, s.registry.Fault(ctx, serial, fmt.Errorf("detecting board: %w", err))
	}
	if !det.Valid() {
		return pose.Pose{}, fmt.Errorf("%w: %s", ErrInvalidCapture, Feedback(det))
	}
	return det.Pose(), nil
}

// FirmwareUpToDate disconnects serial and asks whether its firmware
// matches the SDK.
func (s *Service) FirmwareUpToDate(ctx context.Context, serial string) (bool, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	dev, err := s.disconnected(ctx, serial)
	if err != nil {
		return false, err
	}
	ok, err := s.firmware.UpToDate(ctx, dev)
	if err != nil {
		return false, s.registry.Fault(ctx, serial, fmt.Errorf("checking firmware: %w", err))
	}
	return ok, nil
}

// UpdateFirmware disconnects serial and installs the SDK's firmware,
// downgrading if necessary. The handle is dropped afterwards so the next
// lookup sees the new firmware version.
func (s *Service) UpdateFirmware(ctx context.Context, serial string) error {
	if err := s.updateFirmware(ctx, serial); err != nil {
		return err
	}
	s.logger.Info("camera firmware updated", "serial_number", serial)
	s.events.Publish(ctx, events.Event{Type: events.CameraFirmwareUpdated, SerialNumber: serial})
	return nil
}

func (s *Service) updateFirmware(ctx context.Context, serial string) error {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	dev, err := s.disconnected(ctx, serial)
	if err != nil {
		return err
	}
	if err := s.firmware.Update(ctx, dev); err != nil {
		return s.registry.Fault(ctx, serial, fmt.Errorf("updating firmware: %w", err))
	}
	s.registry.Forget(serial)
	return nil
}

func (s *Service) disconnected(ctx context.Context, serial string) (Device, error) {
	dev, err := s.registry.Lookup(ctx, serial)
	if err != nil {
		return nil, err
	}
	if dev.Connected() {
		if err := dev.Disconnect(); err != nil {
			return nil, s.registry.Fault(ctx, serial, fmt.Errorf("disconnecting: %w", err))
		}
	}
	return dev, nil
}

// Feedback returns the detector's explanation of an invalid detection.
func Feedback(d Detection) string {
	if msg := d.Feedback(); msg != "" {
		return msg
	}
	return "calibration board not detected"
}
