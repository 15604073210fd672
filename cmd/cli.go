// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"os"

	"github.com/HSKCTA/Resonance/internal/config"
	"github.com/HSKCTA/Resonance/internal/transport/zmq"
	"github.com/HSKCTA/Resonance/pkg/build"

	"github.com/spf13/cobra"
)

// Commands other than running the node.
const (
	CommandList    = "list"
	CommandMonitor = "monitor"
	CommandVersion = "version"
)

// Invocation is the parsed command line: the effective configuration plus
// the per-command arguments that do not belong in the config file.
type Invocation struct {
	Config      *config.Config
	Endpoint    string // monitor: endpoint to subscribe to
	Interactive bool   // list: choose a device in the TUI
}

// flagValues holds raw flag values until the config file has been loaded.
type flagValues struct {
	configPath  string
	verbose     bool
	device      int
	deviceHint  string
	sampleRate  float64
	lowLatency  bool
	input       string
	loop        bool
	endpoint    string
	noBroadcast bool
	threshold   float64
	record      bool
	interactive bool
}

// ParseArgs parses os.Args.
func ParseArgs() (*Invocation, error) {
	return parseArgs(os.Args[1:])
}

func parseArgs(args []string) (*Invocation, error) {
	buildInfo := build.GetBuildFlags()
	defaults := config.Default()
	flags := &flagValues{}
	inv := &Invocation{}

	load := func(cmd *cobra.Command, command string) error {
		cfg, err := config.LoadConfig(flags.configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, flags, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg.Command = command
		inv.Config = cfg
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return load(cmd, "")
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   CommandList,
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load(cmd, CommandList); err != nil {
				return err
			}
			inv.Interactive = flags.interactive
			return nil
		},
	}
	listCmd.Flags().BoolVar(&flags.interactive, "interactive", false,
		"Browse input devices and pick capture settings in a terminal UI")

	monitorCmd := &cobra.Command{
		Use:   CommandMonitor + " [endpoint]",
		Short: "Subscribe to a node and show its stream live",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load(cmd, CommandMonitor); err != nil {
				return err
			}
			inv.Endpoint = zmq.DialEndpoint(inv.Config.Broadcast.Endpoint)
			if len(args) == 1 {
				inv.Endpoint = args[0]
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   CommandVersion,
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv.Config = config.Default()
			inv.Config.Command = CommandVersion
			return nil
		},
	}
	rootCmd.AddCommand(listCmd, monitorCmd, versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "f", "",
		"Path to config.yaml (default: ./config.yaml, then /etc/resonance/config.yaml)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false,
		"Show verbose output")

	// Capture
	rf := rootCmd.Flags()
	rf.IntVarP(&flags.device, "device", "d", defaults.Audio.InputDevice,
		"Specify input device ID. Use 'list' command to see available devices.")
	rf.StringVar(&flags.deviceHint, "device-hint", "",
		"Select the first input device whose name contains this text")
	rf.Float64VarP(&flags.sampleRate, "sample-rate", "s", defaults.Audio.SampleRate,
		"Sample rate, measured in Hertz (Hz)")
	rf.BoolVarP(&flags.lowLatency, "low-latency", "l", defaults.Audio.LowLatency,
		"Use the device's low input latency")
	rf.StringVarP(&flags.input, "input", "i", "",
		"Replay a WAV file instead of capturing from a device")
	rf.BoolVar(&flags.loop, "loop", false,
		"Restart the --input file when it ends")

	// Broadcast and safety
	rf.StringVarP(&flags.endpoint, "endpoint", "e", defaults.Broadcast.Endpoint,
		"ZeroMQ endpoint to bind the spectrogram publisher to")
	rf.BoolVar(&flags.noBroadcast, "no-broadcast", false,
		"Run the pipeline without publishing tensors")
	rf.Float64VarP(&flags.threshold, "threshold", "t", defaults.Safety.Threshold,
		"Safety gate RMS threshold")

	// Recording
	rf.BoolVarP(&flags.record, "record", "r", false,
		"Record raw capture to a WAV file in recording.output_dir")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if inv.Config == nil {
		// --help or --version was handled by cobra.
		return nil, nil
	}
	return inv, nil
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, f *flagValues, cfg *config.Config) {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}

	if f.verbose {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	if changed("device") {
		cfg.Audio.InputDevice = f.device
	}
	if changed("device-hint") {
		cfg.Audio.DeviceHint = f.deviceHint
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = f.sampleRate
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = f.lowLatency
	}
	if changed("input") {
		cfg.Audio.InputFile = f.input
	}
	if changed("loop") {
		cfg.Audio.Loop = f.loop
	}
	if changed("endpoint") {
		cfg.Broadcast.Endpoint = f.endpoint
	}
	if changed("no-broadcast") {
		cfg.Broadcast.Enabled = !f.noBroadcast
	}
	if changed("threshold") {
		cfg.Safety.Threshold = f.threshold
	}
	if changed("record") {
		cfg.Recording.Enabled = f.record
	}
}
