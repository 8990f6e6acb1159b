package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"scribe/audio"
	"scribe/config"
	"scribe/devserver"
	"scribe/doctor"
	"scribe/log"
	"scribe/shutdown"
)

var version = "dev"

// toneLength is how much audio the tone backend plays per recording.
const toneLength = 2 * time.Minute

var errChecksFailed = errors.New("diagnostics failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errChecksFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	rec := &recordOptions{}

	root := &cobra.Command{
		Use:   "scribe",
		Short: "Stream call audio to the transcriber and show the live transcript",
		Long: "scribe captures the microphone, streams it to the transcription service\n" +
			"over a websocket and shows transcript chunks as they arrive.\n\n" +
			"Running scribe with no command is the same as scribe record.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecord(cmd, cfgFile, rec)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: scribe.yaml in the user config dir or working dir)")
	pf.String("server-url", "", "transcriber base URL, e.g. https://app.example.com")
	pf.String("call-id", "", "call id sent with every frame (default: a new UUID per recording)")
	pf.String("customer-id", "", "customer id sent with every frame (default: the call id)")
	pf.String("device", "", "capture device name (default: system default)")
	pf.Duration("retry-interval", 0, "delay between reconnect attempts while disconnected")
	pf.MarkHidden("retry-interval")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	pf.String("logpath", "", "log directory (default: OS-specific location, use ./ for current dir)")
	pf.String("backend", "", "audio source: mic, tone or wav")
	pf.String("wav", "", "WAV file to play when backend is wav")

	rec.addFlags(root)

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Capture and stream audio (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecord(cmd, cfgFile, rec)
		},
	}
	rec.addFlags(recordCmd)

	root.AddCommand(
		recordCmd,
		newDevicesCmd(&cfgFile),
		newDoctorCmd(&cfgFile),
		newDevserverCmd(),
		newConfigCmd(&cfgFile),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command, cfgFile string) (*config.Config, error) {
	cfg, _, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// setupLogging opens the log files. Failing to do so is not fatal; the
// caller is told and logging stays off.
func setupLogging(logPath string) {
	dir, err := log.ResolveDir(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to resolve log directory: %v\n", err)
		return
	}
	log.SetDir(dir)
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
}

// openAudio returns the capture context for the configured backend.
func openAudio(cfg *config.Config) (audio.Context, error) {
	switch cfg.Backend {
	case config.BackendTone:
		return audio.NewFakeContext(audio.Tone(440, 0.3, toneLength), true), nil
	case config.BackendWAV:
		return audio.NewFakeContextFromWAV(cfg.WAVPath, true)
	default:
		actx, err := audio.NewContext()
		if err != nil {
			return nil, fmt.Errorf("initializing audio: %w", audio.Classify(err))
		}
		return actx, nil
	}
}

// configPath is where config changes are saved.
func configPath(cfgFile string) (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "scribe.yaml"), nil
}

func newDevicesCmd(cfgFile *string) *cobra.Command {
	var sel bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices, or pick one with --select",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return err
			}
			actx, err := openAudio(cfg)
			if err != nil {
				return err
			}
			defer actx.Close()

			out := cmd.OutOrStdout()
			if !sel {
				devices, err := actx.Devices()
				if err != nil {
					return fmt.Errorf("enumerating devices: %w", err)
				}
				if len(devices) == 0 {
					return audio.ErrDeviceNotFound
				}
				for _, d := range devices {
					mark := "  "
					if d.Name == cfg.Device {
						mark = "* "
					}
					tag := ""
					if audio.IsBluetooth(d.Name) {
						tag = " (bluetooth)"
					}
					fmt.Fprintf(out, "%s%s%s\n", mark, d.Name, tag)
				}
				return nil
			}

			dev, err := audio.SelectDevice(actx)
			if err != nil {
				doctor.ResetTerminal()
				return err
			}
			if dev == nil {
				return nil
			}
			path, err := configPath(*cfgFile)
			if err != nil {
				return err
			}
			cfg.Device = dev.Name
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("saving %s: %w", path, err)
			}
			fmt.Fprintf(out, "Using %s (saved to %s)\n", dev.Name, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&sel, "select", false, "pick a device interactively and save it to the config file")
	return cmd
}

func newDoctorCmd(cfgFile *string) *cobra.Command {
	var captureFor time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the microphone and the transcriber connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doctor.ExitOnInterrupt()
			cfg, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return err
			}
			actx, err := openAudio(cfg)
			if err != nil {
				return err
			}
			defer actx.Close()

			code := doctor.Run(doctor.Options{
				Audio:      actx,
				Device:     cfg.Device,
				ServerURL:  cfg.ServerURL,
				Out:        cmd.OutOrStdout(),
				CaptureFor: captureFor,
			})
			if code != 0 {
				return errChecksFailed
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&captureFor, "capture-for", 2*time.Second, "how long the microphone check records")
	return cmd
}

func newDevserverCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local transcriber that speaks the streaming protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log.InitWriter(cmd.ErrOrStderr())
			ctx, stop := shutdown.Context(cmd.Context())
			defer stop()
			return devserver.New(nil).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8000", "listen address")
	return cmd
}

func newConfigCmd(cfgFile *string) *cobra.Command {
	var initFile, force bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or write it with --init",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			load := config.Load
			if initFile {
				load = config.LoadAllowMissing
			}
			cfg, used, err := load(*cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !initFile {
				if used != "" {
					fmt.Fprintf(out, "# %s\n", used)
				}
				if err := cfg.Write(out); err != nil {
					return err
				}
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid configuration:\n%w", err)
				}
				return nil
			}

			path, err := configPath(*cfgFile)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(out, "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&initFile, "init", false, "write the effective configuration to the config file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "scribe %s\n", version)
		},
	}
}
