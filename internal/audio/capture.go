package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/chaz8081/gostt-live/internal/telemetry"
)

// Device describes a capture device visible to the audio backend.
type Device struct {
	Index   int
	Name    string
	Default bool
}

// CaptureConfig controls device selection and block sizing for a Capture.
type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
	BlockMs    int
	QueueSize  int
	// Device selects the input device: empty for the system default, a
	// decimal index from Devices(), or a case-insensitive name substring.
	Device string
}

// Capture streams microphone audio as blocks of mono float32 samples on a
// bounded channel. The device callback never blocks: when the channel is
// full the block is dropped and counted, so a stalled consumer can slow the
// pipeline but never the audio thread.
type Capture struct {
	ctx *malgo.AllocatedContext
	cfg CaptureConfig
	rec *telemetry.Recorder

	blocks chan []float32

	mu      sync.Mutex
	device  *malgo.Device
	running bool
}

// NewCapture initializes the audio backend. Call Close() when done.
func NewCapture(cfg CaptureConfig, rec *telemetry.Recorder) (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: initializing context: %w", err)
	}

	return &Capture{
		ctx:    ctx,
		cfg:    cfg,
		rec:    rec,
		blocks: make(chan []float32, cfg.QueueSize),
	}, nil
}

// Blocks returns the channel of captured sample blocks. The channel is never
// closed; consumers stop on their own signal and drain what remains.
func (c *Capture) Blocks() <-chan []float32 {
	return c.blocks
}

// Start opens the configured device and begins capturing. It fails
// definitively if the device cannot be opened or started; there is no retry.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("audio: already capturing")
	}
	c.running = true
	c.mu.Unlock()

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = c.cfg.Channels
	deviceCfg.SampleRate = c.cfg.SampleRate
	if c.cfg.BlockMs > 0 {
		deviceCfg.PeriodSizeInMilliseconds = uint32(c.cfg.BlockMs)
	}

	if c.cfg.Device != "" {
		id, err := c.resolveDevice(c.cfg.Device)
		if err != nil {
			c.setStopped()
			return err
		}
		deviceCfg.Capture.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: c.onData,
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		c.setStopped()
		return fmt.Errorf("audio: initializing capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		c.setStopped()
		return fmt.Errorf("audio: starting capture device: %w", err)
	}

	c.mu.Lock()
	c.device = device
	c.mu.Unlock()

	return nil
}

// Stop ends the capture. It returns only after the device callback has
// finished, so no block is sent after Stop returns.
func (c *Capture) Stop() {
	c.mu.Lock()
	device := c.device
	c.device = nil
	c.running = false
	c.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
}

// Running reports whether the capture device is active.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Close stops any active capture and releases the audio backend.
func (c *Capture) Close() error {
	c.Stop()

	if c.ctx != nil {
		if err := c.ctx.Uninit(); err != nil {
			return fmt.Errorf("audio: uninitializing context: %w", err)
		}
		c.ctx.Free()
		c.ctx = nil
	}

	return nil
}

func (c *Capture) setStopped() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// resolveDevice matches sel against the enumerated capture devices, first as
// a decimal index, then as a case-insensitive name substring.
func (c *Capture) resolveDevice(sel string) (malgo.DeviceID, error) {
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("audio: enumerating devices: %w", err)
	}

	if idx, err := strconv.Atoi(sel); err == nil {
		if idx < 0 || idx >= len(infos) {
			return malgo.DeviceID{}, fmt.Errorf("audio: device index %d out of range (%d devices)", idx, len(infos))
		}
		return infos[idx].ID, nil
	}

	want := strings.ToLower(sel)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info.ID, nil
		}
	}

	return malgo.DeviceID{}, fmt.Errorf("audio: no capture device matching %q", sel)
}

// onData is the malgo callback invoked when audio data is available.
// pSample contains the captured frames as raw bytes (float32 format). The
// send into the block channel is non-blocking: a full queue drops the block.
func (c *Capture) onData(_, pSample []byte, frameCount uint32) {
	block := framesToMono(pSample, frameCount, c.cfg.Channels)
	if len(block) == 0 {
		return
	}

	select {
	case c.blocks <- block:
		c.rec.BlockCaptured()
	default:
		c.rec.BlockDropped()
	}
}

// framesToMono converts raw interleaved frames (little-endian float32) to a
// mono float32 slice by taking channel 0 of each frame.
func framesToMono(data []byte, frameCount, channels uint32) []float32 {
	if channels == 0 {
		channels = 1
	}
	samples := make([]float32, 0, frameCount)
	stride := channels * 4
	for i := uint32(0); i < frameCount; i++ {
		offset := i * stride
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}

// Devices lists the capture devices visible to the audio backend.
func Devices() ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: initializing context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("audio: enumerating devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, Device{
			Index:   i,
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return devices, nil
}
