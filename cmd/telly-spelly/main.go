package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TanaroSch/telly-spelly/internal/app"
	"github.com/TanaroSch/telly-spelly/internal/config"
	"github.com/TanaroSch/telly-spelly/internal/hotkey"
	"github.com/TanaroSch/telly-spelly/internal/logging"
	"github.com/TanaroSch/telly-spelly/internal/ui"
)

var version = "v0.1.0"

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "telly-spelly",
	Short: "Voice recording tray app with desktop-wide shortcuts",
	Long: `Telly Spelly runs in the system tray and starts or stops recording from a
global keyboard shortcut.

Shortcuts are bound through KDE's global accelerator service or the XDG
desktop portal. When neither works, bind the trigger command yourself.

Examples:
  telly-spelly                     # Start the tray application
  telly-spelly trigger toggle      # Toggle recording in the running instance
  telly-spelly detect              # Show what shortcut setup would do`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the tray application",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp()
	},
}

var triggerCmd = &cobra.Command{
	Use:       "trigger <start|stop|toggle>",
	Short:     "Send an action to the running instance",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"start", "stop", "toggle"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrigger(cmd, args[0])
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Print the detected desktop and the shortcut backends to try",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetect(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", config.DefaultPath(), "configuration file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: "+logging.LevelNames())
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(detectCmd)
}

// loadConfig loads the configuration and installs logging, with flags taking
// precedence over the file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	if err := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runApp() error {
	cfg, err := loadConfig()
	if err != nil {
		// Started from a desktop launcher there is no terminal to read stderr.
		_ = ui.ShowError(app.AppName, err.Error())
		return err
	}
	log := logging.For("main")

	// A missing session bus leaves the tray usable; shortcut setup reports
	// ErrBusUnavailable.
	var bus hotkey.Bus
	conn, err := hotkey.ConnectSessionBus()
	if err != nil {
		log.Error("session bus unavailable", "err", err)
	} else {
		bus = conn
		defer conn.Close()
	}

	application := app.New(cfg, version, bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
			application.Quit()
		case <-done:
		}
	}()

	application.Run()
	return nil
}

// candidateIdentities returns the identity for the detected desktop first,
// then the other namespace, since the running instance may have been
// started under a different session classification.
func candidateIdentities(env hotkey.Environment) []hotkey.Identity {
	primary := hotkey.Resolve(env)
	other := hotkey.Resolve(hotkey.EnvKDE)
	if env == hotkey.EnvKDE {
		other = hotkey.Resolve(hotkey.EnvUnknown)
	}
	return []hotkey.Identity{primary, other}
}

func runTrigger(cmd *cobra.Command, name string) error {
	action, err := hotkey.ParseAction(name)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, err := hotkey.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("%w: %v", hotkey.ErrBusUnavailable, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, id := range candidateIdentities(app.ResolveEnvironment(cfg)) {
		ok, err := hotkey.Invoke(ctx, conn, id, action)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			return fmt.Errorf("%s was rejected by %s", action, id.BusName)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s sent to %s\n", action, id.BusName)
		return nil
	}
	return fmt.Errorf("no running instance found: %w", errors.Join(errs...))
}

func runDetect(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	env := app.ResolveEnvironment(cfg)
	id := hotkey.Resolve(env)
	kinds := hotkey.SelectBackends(env, cfg.EnableKGlobalAccel, cfg.EnablePortal)
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "desktop:        %s\n", env)
	fmt.Fprintf(out, "display server: %s\n", hotkey.Detector{}.DetectDisplayServer())
	fmt.Fprintf(out, "bus name:       %s\n", id.BusName)
	fmt.Fprintf(out, "object path:    %s\n", id.ObjectPath)
	fmt.Fprintf(out, "backends:       %s\n", strings.Join(names, ", "))
	if cfg.X11GrabFallback && env != hotkey.EnvKDE {
		if hotkey.X11GrabAvailable {
			fmt.Fprintf(out, "fallback:       x11 key grab\n")
		} else {
			fmt.Fprintf(out, "fallback:       x11 key grab (unavailable, build with -tags x11grab)\n")
		}
	}
	fmt.Fprintf(out, "manual command: %s\n", id.InvocationCommand(hotkey.ActionToggle))
	fmt.Fprintf(out, "cli command:    %s\n", hotkey.CLITriggerCommand)
	return nil
}
