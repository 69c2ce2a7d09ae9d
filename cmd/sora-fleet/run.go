// ABOUTME: The run command: provision identities, start the fleet, poll until stopped.
// ABOUTME: Handles config resolution, flag overrides, and the interactive prompts.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ztfn-6/sora-fleet/internal/agent"
	"github.com/ztfn-6/sora-fleet/internal/config"
	"github.com/ztfn-6/sora-fleet/internal/dedupe"
	"github.com/ztfn-6/sora-fleet/internal/fleet"
	"github.com/ztfn-6/sora-fleet/internal/halt"
	"github.com/ztfn-6/sora-fleet/internal/identity"
	"github.com/ztfn-6/sora-fleet/internal/rtc"
)

const banner = `
 ___  ___  _ __ __ _        / _| | ___  ___| |_
/ __|/ _ \| '__/ _' |_____ | |_| |/ _ \/ _ \ __|
\__ \ (_) | | | (_| |_____||  _| |  __/  __/ |_
|___/\___/|_|  \__,_|      |_| |_|\___|\___|\__|
`

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the fleet and poll until a code is found",
	Long: `Start the fleet: reuse or mint the requested number of identities,
connect one client per identity (staggered), and poll until the first
code is found (default) or until interrupted (--continuous).

Codes are appended to the discovery log as they are accepted; identities
are cached across runs.`,
	RunE: runFleet,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file")
	runCmd.Flags().IntP("count", "n", 0, "number of identities/clients to run")
	runCmd.Flags().Bool("continuous", false, "keep collecting codes instead of stopping at the first")
	runCmd.Flags().Duration("interval", 0, "base per-client poll interval override")
	runCmd.Flags().Bool("copy", false, "copy each discovered code to the clipboard")
}

// getConfigPath returns the path to the fleet config file.
// Priority: SORA_FLEET_CONFIG env var > XDG_CONFIG_HOME/sora-fleet/config.yaml > ~/.config/sora-fleet/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SORA_FLEET_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "sora-fleet", "config.yaml")
}

// loadConfig resolves the effective configuration: file if present,
// defaults otherwise, then flag overrides on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := path != ""
	if !explicit {
		path = getConfigPath()
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		// No config file is fine; run on defaults.
		cfg = config.Default()
	default:
		return nil, err
	}

	if n, _ := cmd.Flags().GetInt("count"); cmd.Flags().Changed("count") {
		cfg.Fleet.Count = n
	}
	if cmd.Flags().Changed("continuous") {
		continuous, _ := cmd.Flags().GetBool("continuous")
		cfg.Fleet.StopOnFirst = !continuous
	}
	if d, _ := cmd.Flags().GetDuration("interval"); d > 0 {
		cfg.Fleet.BaseInterval = d
	}
	if copyFlag, _ := cmd.Flags().GetBool("copy"); copyFlag {
		cfg.Output.Clipboard = true
	}

	return cfg, nil
}

func runFleet(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Interactive prompts fill in what flags didn't, as long as there is a
	// terminal to ask on.
	if isatty.IsTerminal(os.Stdin.Fd()) {
		reader := bufio.NewReader(os.Stdin)
		if !cmd.Flags().Changed("continuous") {
			cfg.Fleet.StopOnFirst = promptYesNo(reader, "Stop at the first code found?", cfg.Fleet.StopOnFirst)
		}
		if !cmd.Flags().Changed("count") {
			cfg.Fleet.Count = promptCount(reader, "How many clients to run?", cfg.Fleet.Count)
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if cfg.Fleet.Count == 0 {
		return fmt.Errorf("fleet.count must be positive")
	}

	printStartup(cfg)

	logger := setupLogger(cfg.Logging)

	stop := halt.NewFlag()
	go func() {
		<-ctx.Done()
		if stop.Set("interrupted") {
			logger.Info("interrupt received, stopping fleet")
		}
	}()

	// Identities: reuse the cache, mint the rest.
	cache := identity.NewCache(cfg.Storage.IdentityCache)
	registrar := identity.NewHTTPRegistrar(cfg.Server.RegisterURL(), cfg.Provisioning.RequestTimeout)
	provisioner := identity.NewProvisioner(cache, registrar, stop,
		cfg.Provisioning.Workers, cfg.Provisioning.RetryInterval, logger)

	ids, err := provisioner.Acquire(ctx, cfg.Fleet.Count)
	if errors.Is(err, identity.ErrShortfall) {
		return fmt.Errorf("obtained %d of %d identities before stopping; not starting a partial fleet",
			len(ids), cfg.Fleet.Count)
	}
	if err != nil {
		return fmt.Errorf("acquiring identities: %w", err)
	}

	// Discoveries are persisted synchronously on acceptance, before anything
	// else sees them.
	logSink, err := dedupe.NewFileSink(cfg.Storage.DiscoveryLog)
	if err != nil {
		return err
	}
	defer logSink.Close()
	seen := dedupe.New(logSink)

	sinks := []fleet.DiscoverySink{fleet.NewConsoleSink(os.Stdout)}
	if cfg.Output.Clipboard {
		sinks = append(sinks, fleet.ClipboardSink{})
	}

	factory := func(id string) agent.Conn {
		return rtc.New(cfg.Server.BaseURL, agent.AuthPayload{UserID: id}, logger, rtc.Options{})
	}

	mgr := fleet.New(fleetConfig(cfg), ids, factory, seen, stop, logger, sinks...)

	logger.Info("fleet starting",
		"agents", len(ids),
		"stop_on_first", cfg.Fleet.StopOnFirst,
		"base_interval", cfg.Fleet.BaseInterval,
	)

	missed := mgr.Run(ctx)
	if len(missed) > 0 {
		logger.Warn("some agents exceeded the drain timeout", "count", len(missed))
	}

	codes := seen.Values()
	if len(codes) == 0 {
		fmt.Println("No codes found.")
		return nil
	}
	fmt.Printf("Found %d code(s), saved to %s\n", len(codes), cfg.Storage.DiscoveryLog)
	return nil
}

func fleetConfig(cfg *config.Config) fleet.Config {
	return fleet.Config{
		StopOnFirst:    cfg.Fleet.StopOnFirst,
		Workers:        cfg.Fleet.Workers,
		BaseInterval:   cfg.Fleet.BaseInterval,
		Tick:           cfg.Fleet.Tick,
		ConnectStagger: cfg.Fleet.ConnectStagger,
		SettleDelay:    cfg.Fleet.SettleDelay,
		DrainTimeout:   cfg.Fleet.DrainTimeout,
	}
}

func printStartup(cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Server:   %s\n", cfg.Server.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Clients:  %d\n", cfg.Fleet.Count)
	green.Print("    ▶ ")
	if cfg.Fleet.StopOnFirst {
		fmt.Println("Mode:     stop on first code")
	} else {
		fmt.Println("Mode:     continuous")
	}
	green.Print("    ▶ ")
	fmt.Printf("Codes:    %s\n", cfg.Storage.DiscoveryLog)
	fmt.Println()
}

// promptYesNo asks until it gets a yes or a no.
func promptYesNo(reader *bufio.Reader, question string, def bool) bool {
	hint := "yes/no"
	for {
		fmt.Printf("%s (%s): ", question, hint)
		line, err := reader.ReadString('\n')
		if err != nil {
			return def
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "yes", "y":
			return true
		case "no", "n":
			return false
		case "":
			return def
		}
		fmt.Println("Please answer yes or no.")
	}
}

// promptCount asks for a positive integer.
func promptCount(reader *bufio.Reader, question string, def int) int {
	for {
		fmt.Printf("%s [%d]: ", question, def)
		line, err := reader.ReadString('\n')
		if err != nil {
			return def
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return def
		}
		n, err := strconv.Atoi(line)
		if err != nil || n <= 0 {
			fmt.Println("Please enter a positive integer.")
			continue
		}
		return n
	}
}
