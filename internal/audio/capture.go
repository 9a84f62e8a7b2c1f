package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var (
	// ErrNoAudioDevice is returned when the configured input device cannot be found.
	ErrNoAudioDevice = errors.New("no audio input device found")
	// ErrAlreadyStarted is returned when Start is called on a running capture.
	ErrAlreadyStarted = errors.New("capture already started")
	// ErrUnknownBackend is returned for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown audio backend")
)

// CaptureConfig selects the input device and stream format.
type CaptureConfig struct {
	// Device is a case-insensitive substring of the device name. Empty uses the default device.
	Device string
	// SampleRate in Hz; 0 lets the backend choose.
	SampleRate int
	// Channels to request; 0 lets the backend choose.
	Channels int
	// Backend forces a malgo backend ("alsa", "pulseaudio", "jack", "coreaudio", "wasapi", "null").
	Backend string
}

var backends = map[string]malgo.Backend{
	"alsa":       malgo.BackendAlsa,
	"pulseaudio": malgo.BackendPulseaudio,
	"jack":       malgo.BackendJack,
	"coreaudio":  malgo.BackendCoreaudio,
	"wasapi":     malgo.BackendWasapi,
	"null":       malgo.BackendNull,
}

// ParseBackend resolves a backend name. An empty name returns nil for auto selection.
func ParseBackend(name string) ([]malgo.Backend, error) {
	if name == "" {
		return nil, nil
	}
	b, ok := backends[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return []malgo.Backend{b}, nil
}

// Capture is a Source backed by a malgo capture device delivering float32 frames.
type Capture struct {
	cfg CaptureConfig

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	observer Observer
	state    StreamState

	stopping atomic.Bool
	channels atomic.Int32

	// Owned by the audio thread.
	planes [][]float32
}

// NewCapture creates a capture source. No device is opened until Start.
func NewCapture(cfg CaptureConfig) *Capture {
	return &Capture{cfg: cfg, state: StreamUnconnected}
}

// Start opens the device and begins delivering buffers to obs.
func (c *Capture) Start(obs Observer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return ErrAlreadyStarted
	}
	c.observer = obs
	c.stopping.Store(false)

	if err := c.openLocked(); err != nil {
		_ = c.releaseLocked()
		c.setStateLocked(StreamError, err)
		return err
	}

	format := Format{
		Channels:   int(c.device.CaptureChannels()),
		SampleRate: int(c.device.SampleRate()),
	}
	c.channels.Store(int32(format.Channels))
	obs.OnFormatChanged(format)

	if err := c.device.Start(); err != nil {
		err = fmt.Errorf("start capture device: %w", err)
		_ = c.releaseLocked()
		c.setStateLocked(StreamError, err)
		return err
	}
	c.setStateLocked(StreamStreaming, nil)
	return nil
}

func (c *Capture) openLocked() error {
	backend, err := ParseBackend(c.cfg.Backend)
	if err != nil {
		return err
	}

	ctx, err := malgo.InitContext(backend, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(max(c.cfg.Channels, 0))
	deviceConfig.SampleRate = uint32(max(c.cfg.SampleRate, 0))
	deviceConfig.Alsa.NoMMap = 1

	if c.cfg.Device != "" {
		info, err := findDevice(ctx, c.cfg.Device)
		if err != nil {
			return err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		slog.Info("selected audio device", "name", info.Name())
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: c.onData,
		Stop: c.onStop,
	})
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}
	c.device = device
	return nil
}

func findDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("list capture devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("%w: %q", ErrNoAudioDevice, name)
}

// onData runs on the audio thread. The observer is set before the device starts
// and is not replaced while it runs.
func (c *Capture) onData(_, input []byte, _ uint32) {
	channels := int(c.channels.Load())
	if c.observer == nil || channels == 0 || len(input) == 0 {
		return
	}
	var frames int
	c.planes, frames = Deinterleave(input, channels, c.planes)
	c.observer.OnBuffer(Buffer{Planes: c.planes, Frames: frames})
}

// onStop runs on the audio thread when the device stops, either on request or
// because the backend gave up. Stop holds the mutex while the device thread runs
// this, so the state change is made from a separate goroutine.
func (c *Capture) onStop() {
	if c.stopping.Load() {
		return
	}
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopping.Load() {
			return
		}
		c.setStateLocked(StreamPaused, errors.New("capture device stopped unexpectedly"))
	}()
}

// Stop halts buffer delivery. The device stays open until Close.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}
	c.stopping.Store(true)
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	c.setStateLocked(StreamPaused, nil)
	return nil
}

// Close releases the device and then the context.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopping.Store(true)
	return c.releaseLocked()
}

func (c *Capture) releaseLocked() error {
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.channels.Store(0)
	var err error
	if c.ctx != nil {
		if uerr := c.ctx.Uninit(); uerr != nil {
			err = fmt.Errorf("release audio context: %w", uerr)
		}
		c.ctx.Free()
		c.ctx = nil
	}
	return err
}

func (c *Capture) setStateLocked(state StreamState, err error) {
	old := c.state
	c.state = state
	if c.observer != nil && (old != state || err != nil) {
		c.observer.OnStreamStateChanged(old, state, err)
	}
}
