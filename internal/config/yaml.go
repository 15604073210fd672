// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HSKCTA/Resonance/pkg/bitint"
	"gopkg.in/yaml.v3"
)

// Hardware and processing limits.
const (
	MinDeviceID   = -1     // -1 represents the system default device.
	MinSampleRate = 8000   // Minimum usable sample rate (Hz).
	MaxSampleRate = 192000 // Maximum supported sample rate (Hz).
	MaxQueueSize  = 1 << 22
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`             // Enable debug mode (forces log level debug).
	LogLevel  string          `yaml:"log_level"`         // Logging level (e.g., "debug", "info", "warn", "error").
	Command   string          `yaml:"command,omitempty"` // A one-off command to execute instead of running the node (e.g., "list").
	Audio     AudioConfig     `yaml:"audio"`             // Capture settings.
	Filter    FilterConfig    `yaml:"filter"`            // Isolation filter settings.
	Safety    SafetyConfig    `yaml:"safety"`            // RMS safety gate settings.
	Spectral  SpectralConfig  `yaml:"spectral"`          // STFT and spectrogram settings.
	Broadcast BroadcastConfig `yaml:"broadcast"`         // Tensor pub/sub settings.
	Transport TransportConfig `yaml:"transport"`         // Auxiliary transports (UDP, WebSocket).
	MQTT      MQTTConfig      `yaml:"mqtt"`              // Safety alarm notifications.
	Metrics   MetricsConfig   `yaml:"metrics"`           // Prometheus endpoint.
	Recording RecordingConfig `yaml:"recording"`         // Raw capture recording.
}

// AudioConfig holds settings related to audio capture.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for capture (-1 for default).
	DeviceHint      string  `yaml:"device_hint"`       // Substring of the device name to prefer over InputDevice.
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames delivered per driver callback.
	InputChannels   int     `yaml:"input_channels"`    // Channels opened on the device; channel 0 is analysed.
	LowLatency      bool    `yaml:"low_latency"`       // Request the device's low input latency.
	QueueCapacity   int     `yaml:"queue_capacity"`    // Capture queue slots (rounded up to a power of two).
	InputFile       string  `yaml:"input_file"`        // Replay this WAV file instead of opening a device.
	Realtime        bool    `yaml:"realtime"`          // Pace WAV replay at the sample rate.
	Loop            bool    `yaml:"loop"`              // Restart WAV replay at end of file.
}

// FilterConfig holds the isolation filter design parameters.
type FilterConfig struct {
	HighPassHz float64 `yaml:"highpass_hz"` // High-pass cutoff, removes DC and rumble.
	LowPassHz  float64 `yaml:"lowpass_hz"`  // Low-pass cutoff, removes ultrasonic noise.
	Q          float64 `yaml:"q"`           // Quality factor of both stages.
}

// SafetyConfig holds the sliding RMS gate parameters.
type SafetyConfig struct {
	Threshold float64 `yaml:"threshold"` // RMS level that latches the gate.
	Window    int     `yaml:"window"`    // Samples in the RMS window.
}

// SpectralConfig holds STFT and spectrogram parameters.
type SpectralConfig struct {
	FFTSize int    `yaml:"fft_size"` // Analysis window length (power of two).
	Hop     int    `yaml:"hop"`      // Samples between analyses.
	Bins    int    `yaml:"bins"`     // Log-magnitude bins kept per frame.
	Frames  int    `yaml:"frames"`   // Frames in the published tensor.
	Window  string `yaml:"window"`   // Window function name.
}

// BroadcastConfig holds the tensor publisher settings.
type BroadcastConfig struct {
	Enabled       bool   `yaml:"enabled"`         // Publish tensors; when false they are only logged.
	Endpoint      string `yaml:"endpoint"`        // Bind address, e.g. "tcp://*:5555".
	HighWaterMark int    `yaml:"high_water_mark"` // Outbound queue depth of the socket.
	IncludeRMS    bool   `yaml:"include_rms"`     // Add the safety RMS to each header.
}

// TransportConfig holds settings related to sending auxiliary data over the network.
type TransportConfig struct {
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send the latest spectral frame over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.

	WebSocketEnabled bool   `yaml:"websocket_enabled"` // Serve node status over WebSocket.
	WebSocketAddress string `yaml:"websocket_address"` // Listen address, e.g. ":8080".

	StatusIntervalSamples int `yaml:"status_interval_samples"` // Samples between status snapshots.
}

// MQTTConfig holds the safety alarm notifier settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // e.g. "tcp://localhost:1883".
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"` // Generated when empty.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // e.g. ":9100".
}

// RecordingConfig holds settings related to raw capture recording.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`    // Record captured samples to a WAV file.
	OutputDir string `yaml:"output_dir"` // Directory to save recorded audio files.
	BitDepth  int    `yaml:"bit_depth"`  // Bit depth for recorded audio (16, 24 or 32).
}

// Default returns the built-in configuration. The DSP values match the
// deployed sensing node: 44.1 kHz mono, 150 Hz / 12 kHz isolation filter,
// 0.7 RMS trip over 4096 samples, 2048-point STFT with 512 hop, 1024x64 tensor.
func Default() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     MinDeviceID,
			SampleRate:      44100,
			FramesPerBuffer: 256,
			InputChannels:   1,
			LowLatency:      false,
			QueueCapacity:   8192,
			Realtime:        true,
		},
		Filter: FilterConfig{
			HighPassHz: 150,
			LowPassHz:  12000,
			Q:          0.707,
		},
		Safety: SafetyConfig{
			Threshold: 0.7,
			Window:    4096,
		},
		Spectral: SpectralConfig{
			FFTSize: 2048,
			Hop:     512,
			Bins:    1024,
			Frames:  64,
			Window:  "Hann",
		},
		Broadcast: BroadcastConfig{
			Enabled:       true,
			Endpoint:      "tcp://*:5555",
			HighWaterMark: 10,
			IncludeRMS:    true,
		},
		Transport: TransportConfig{
			UDPEnabled:            false,
			UDPTargetAddress:      "127.0.0.1:9090",
			UDPSendInterval:       33 * time.Millisecond, // ~30Hz.
			WebSocketEnabled:      false,
			WebSocketAddress:      ":8080",
			StatusIntervalSamples: 4410,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker:  "tcp://localhost:1883",
			Topic:   "resonance/safety",
			QoS:     1,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9100",
		},
		Recording: RecordingConfig{
			Enabled:   false,
			OutputDir: "./recordings",
			BitDepth:  16,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. Environment variable overrides are applied on top. The result is not
// validated: callers apply their own overrides (command line flags) first and then
// call Validate once.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"config.yaml",
			"/etc/resonance/config.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Validate checks every value the pipeline constructors depend on, so a bad
// file fails at startup rather than on the first sample.
func (c *Config) Validate() error {
	var errs []error

	a := c.Audio
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate %.0f outside [%d, %d]", a.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if a.InputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.input_device %d is invalid", a.InputDevice))
	}
	if a.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer must be positive"))
	}
	if a.InputChannels <= 0 {
		errs = append(errs, fmt.Errorf("audio.input_channels must be positive"))
	}
	if a.QueueCapacity < 2 || a.QueueCapacity > MaxQueueSize {
		errs = append(errs, fmt.Errorf("audio.queue_capacity %d outside [2, %d]", a.QueueCapacity, MaxQueueSize))
	}

	nyquist := a.SampleRate / 2
	f := c.Filter
	if f.HighPassHz <= 0 || f.HighPassHz >= nyquist {
		errs = append(errs, fmt.Errorf("filter.highpass_hz %.1f must be in (0, %.1f)", f.HighPassHz, nyquist))
	}
	if f.LowPassHz <= 0 || f.LowPassHz >= nyquist {
		errs = append(errs, fmt.Errorf("filter.lowpass_hz %.1f must be in (0, %.1f)", f.LowPassHz, nyquist))
	}
	if f.Q <= 0 {
		errs = append(errs, fmt.Errorf("filter.q must be positive"))
	}

	if c.Safety.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("safety.threshold must be positive"))
	}
	if c.Safety.Window <= 0 {
		errs = append(errs, fmt.Errorf("safety.window must be positive"))
	}

	s := c.Spectral
	if !bitint.IsPowerOfTwo(s.FFTSize) {
		errs = append(errs, fmt.Errorf("spectral.fft_size must be a power of 2, got %d", s.FFTSize))
	}
	if s.Hop <= 0 || s.Hop > s.FFTSize {
		errs = append(errs, fmt.Errorf("spectral.hop %d must be in [1, fft_size]", s.Hop))
	}
	if s.Bins <= 0 || s.Bins > s.FFTSize/2 {
		errs = append(errs, fmt.Errorf("spectral.bins %d must be in [1, fft_size/2]", s.Bins))
	}
	if s.Frames <= 0 {
		errs = append(errs, fmt.Errorf("spectral.frames must be positive"))
	}

	if c.Broadcast.Enabled {
		if !strings.Contains(c.Broadcast.Endpoint, "://") {
			errs = append(errs, fmt.Errorf("broadcast.endpoint %q must look like tcp://host:port", c.Broadcast.Endpoint))
		}
		if c.Broadcast.HighWaterMark < 0 {
			errs = append(errs, fmt.Errorf("broadcast.high_water_mark must not be negative"))
		}
	}

	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			errs = append(errs, fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", c.Transport.UDPTargetAddress))
		}
		if c.Transport.UDPSendInterval <= 0 {
			errs = append(errs, fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled"))
		}
	}
	if c.Transport.StatusIntervalSamples <= 0 {
		errs = append(errs, fmt.Errorf("transport.status_interval_samples must be positive"))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" || c.MQTT.Topic == "" {
			errs = append(errs, fmt.Errorf("mqtt.broker and mqtt.topic must be set when MQTT is enabled"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS))
		}
	}

	if c.Recording.Enabled {
		switch c.Recording.BitDepth {
		case 16, 24, 32:
		default:
			errs = append(errs, fmt.Errorf("recording.bit_depth %d must be 16, 24 or 32", c.Recording.BitDepth))
		}
	}

	return errors.Join(errs...)
}

// applyEnvOverrides applies ENV_* variables on top of the file values.
// Unparseable values are ignored and the file value is kept.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			fmt.Printf("configuration: Overriding debug from env: %v\n", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		fmt.Printf("configuration: Overriding log_level from env: %s\n", val)
	}

	// ENV_BROADCAST_ENDPOINT
	if val, ok := os.LookupEnv("ENV_BROADCAST_ENDPOINT"); ok {
		cfg.Broadcast.Endpoint = val
		fmt.Printf("configuration: Overriding broadcast.endpoint from env: %s\n", val)
	}
	// ENV_SAFETY_THRESHOLD
	if val, ok := os.LookupEnv("ENV_SAFETY_THRESHOLD"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Safety.Threshold = fVal
			fmt.Printf("configuration: Overriding safety.threshold from env: %v\n", fVal)
		}
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			fmt.Printf("configuration: Overriding transport.udp_enabled from env: %v\n", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		fmt.Printf("configuration: Overriding transport.udp_target_address from env: %s\n", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			fmt.Printf("configuration: Overriding transport.udp_send_interval from env: %s\n", dur)
		}
	}

	// ENV_MQTT_BROKER
	if val, ok := os.LookupEnv("ENV_MQTT_BROKER"); ok {
		cfg.MQTT.Broker = val
		fmt.Printf("configuration: Overriding mqtt.broker from env: %s\n", val)
	}
}
