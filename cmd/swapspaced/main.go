//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/swapspaced/swapspaced/internal/daemon"
	"github.com/swapspaced/swapspaced/pkg/config"
	"github.com/swapspaced/swapspaced/pkg/logsink"
	"github.com/swapspaced/swapspaced/pkg/meminfo"
	"github.com/swapspaced/swapspaced/pkg/policy"
	"github.com/swapspaced/swapspaced/pkg/pressure"
	"github.com/swapspaced/swapspaced/pkg/sizeunit"
	"github.com/swapspaced/swapspaced/pkg/swapfs"
)

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// run parses the command line in two phases: a first pass that looks only
// for --configfile/-c, so the named config file can be read before the
// full flag set is registered, and a second full parse seeded with the
// file's values as defaults, so flags win over the file on conflicts.
func run(ctx context.Context, args []string) error {
	configFile := firstPassConfigFile(args)

	base := config.Default()
	if configFile != "" {
		var err error
		base, err = config.ParseFile(configFile, base)
		if err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		base.ConfigFile = configFile
	}

	cfg := base
	var helpFlag, versionFlag bool

	root := &cobra.Command{
		Use:   "swapspaced",
		Short: "Elastic swap-file daemon",
		Long: `swapspaced monitors memory pressure via /proc/meminfo and grows or
shrinks a pool of swap files under a dedicated directory in place of a
fixed swap partition.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), cfg, helpFlag, versionFlag, cmd)
		},
	}
	root.SetContext(ctx)

	fs := root.Flags()
	fs.BoolVarP(&helpFlag, "help", "h", false, "print usage and exit")
	fs.BoolVarP(&versionFlag, "version", "V", false, "print version and exit")
	fs.Int64VarP(&cfg.BufferElasticity, "buffer_elasticity", "B", cfg.BufferElasticity, "% of buffers counted free (0..100)")
	fs.Int64VarP(&cfg.CacheElasticity, "cache_elasticity", "C", cfg.CacheElasticity, "% of non-dirty cache counted free (0..100)")
	fs.StringVarP(&configFile, "configfile", "c", configFile, "location of config file")
	fs.Int64VarP(&cfg.CooldownSeconds, "cooldown", "a", cfg.CooldownSeconds, "state-timer reset value, seconds >= 0")
	fs.BoolVarP(&cfg.Daemonize, "daemon", "d", cfg.Daemonize, "fork/setsid after startup")
	fs.BoolVarP(&cfg.Erase, "erase", "e", cfg.Erase, "retire all swap files, then exit")
	fs.Int64VarP(&cfg.FreeTarget, "freetarget", "f", cfg.FreeTarget, "target % free after an allocation (2..99)")
	fs.BoolVarP(&cfg.Inspect, "inspect", "i", cfg.Inspect, "validate config and exit")
	fs.Int64VarP(&cfg.LowerFreeLimit, "lower_freelimit", "l", cfg.LowerFreeLimit, "trigger growth below this % (0..99)")
	fs.VarP(sizeunit.NewValue(&cfg.MaxSwapsize), "max_swapsize", "M", "cap per swap file, bytes >= 8192 (k/m/g/t suffixes accepted)")
	fs.VarP(sizeunit.NewValue(&cfg.MinSwapsize), "min_swapsize", "m", "floor per swap file, bytes >= 8192 (k/m/g/t suffixes accepted)")
	fs.BoolVarP(&cfg.Paranoid, "paranoid", "P", cfg.Paranoid, "wipe swap files on retirement")
	fs.StringVarP(&cfg.PidFile, "pidfile", "p", cfg.PidFile, "pid-file target")
	fs.BoolVarP(&cfg.Quiet, "quiet", "q", cfg.Quiet, "reduce log verbosity")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "increase log verbosity")
	fs.StringVarP(&cfg.SwapPath, "swappath", "s", cfg.SwapPath, "swap directory (absolute path)")
	fs.Int64VarP(&cfg.UpperFreeLimit, "upper_freelimit", "u", cfg.UpperFreeLimit, "trigger shrink above this % (0..100)")

	root.SetArgs(args)
	return root.Execute()
}

// firstPassConfigFile scans args for --configfile/-c without registering
// or validating any other flag, tolerating unknown flags and positional
// arguments entirely. A malformed first pass (e.g. -c with no value) is
// not fatal here; the second, full parse will report it properly.
func firstPassConfigFile(args []string) string {
	fs := pflag.NewFlagSet("swapspaced-configfile-probe", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist = pflag.ParseErrorsWhitelist{UnknownFlags: true}
	fs.Usage = func() {}
	var configFile string
	fs.StringVarP(&configFile, "configfile", "c", "", "")
	_ = fs.Parse(args)
	return configFile
}

func runDaemon(ctx context.Context, cfg config.Config, helpFlag, versionFlag bool, cmd *cobra.Command) error {
	if helpFlag {
		return cmd.Help()
	}
	if versionFlag {
		fmt.Println("swapspaced", version)
		return nil
	}

	pageSize := int64(os.Getpagesize())
	if err := config.Validate(cfg, pageSize); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else if cfg.Quiet {
		level = slog.LevelWarn
	}
	log := logsink.NewText(os.Stderr, level)

	if cfg.Inspect {
		log.Info("configuration valid", "swappath", cfg.SwapPath)
		return nil
	}

	if err := os.MkdirAll(cfg.SwapPath, 0o700); err != nil {
		return fmt.Errorf("swap directory: %w", err)
	}
	// The swap directory is the working directory for the whole run, so a
	// relative path leaking into any later file operation still lands there.
	if err := os.Chdir(cfg.SwapPath); err != nil {
		return fmt.Errorf("swap directory: %w", err)
	}

	scratch := make([]byte, pageSize)
	roster := swapfs.NewRoster(cfg.SwapPath, pageSize)

	model := pressure.Model{
		BufferElasticity: cfg.BufferElasticity,
		CacheElasticity:  cfg.CacheElasticity,
		LowerFreeLimit:   cfg.LowerFreeLimit,
		UpperFreeLimit:   cfg.UpperFreeLimit,
		FreeTarget:       cfg.FreeTarget,
	}
	reader := meminfo.NewReader(meminfo.DefaultPath, scratch)

	if err := checkSwapfsCapacity(reader, model, cfg.SwapPath, log); err != nil {
		return err
	}

	// d is allocated before its fields are populated so the engine's clock
	// closure can capture d.Now and stay in step with the daemon's own
	// tick counter once Run starts advancing it.
	d := &daemon.Daemon{}

	mkswapBin, err := swapfs.ResolveMkswap()
	if err != nil {
		return err
	}
	engine := swapfs.NewEngine(roster, pageSize, mkswapBin, scratch, log, d.Now, cfg.MinSwapsize, cfg.MaxSwapsize)
	engine.Paranoid = cfg.Paranoid

	if cfg.Erase {
		if err := roster.Reconcile(swapfs.DefaultProcSwapsPath, scratch, 0, log); err != nil {
			return fmt.Errorf("reconcile before erase: %w", err)
		}
		if err := engine.RetireAll(); err != nil {
			return fmt.Errorf("erase: %w", err)
		}
		return nil
	}

	// The pidfile is acquired before daemonizing so a collision (EEXIST,
	// presumed concurrent instance) is reported to the
	// foreground invocation rather than lost inside a detached child. The
	// re-exec'd daemon child (isDaemonChild) finds the file already created
	// by its parent and only takes over its cleanup.
	var releasePidFile func()
	if isDaemonChild() {
		releasePidFile = func() {
			if cfg.PidFile != "" {
				_ = os.Remove(cfg.PidFile)
			}
		}
	} else {
		rel, err := acquirePidFile(cfg.PidFile)
		if err != nil {
			return err
		}
		releasePidFile = rel
	}

	if cfg.Daemonize {
		isParent, childPID, err := daemonize()
		if err != nil {
			releasePidFile()
			return err
		}
		if isParent {
			if err := rewritePidFile(cfg.PidFile, childPID); err != nil {
				return err
			}
			return nil
		}
	}
	defer releasePidFile()

	// A startup failure here is fatal, unlike the same error during a
	// steady-state tick, which only skips that tick's action.
	if err := engine.ActivateOldSwaps(cfg.MinSwapsize, swapfs.DefaultProcSwapsPath, 0); err != nil {
		return fmt.Errorf("startup swap recovery: %w", err)
	}

	machine := policy.NewMachine(int(cfg.CooldownSeconds))
	machine.Bind(engine)

	d.Reader = reader
	d.Model = model
	d.Machine = machine
	d.Roster = roster
	d.Engine = engine
	d.Log = log
	d.ProcSwapsPath = swapfs.DefaultProcSwapsPath
	d.Paranoid = cfg.Paranoid
	d.Scratch = scratch

	log.Notice("swapspaced starting", "swappath", cfg.SwapPath, "version", version)
	return d.Run(ctx)
}

// checkSwapfsCapacity compares the swap directory's filesystem against the
// smallest swap file this daemon could ever usefully allocate (the size
// needed if the system sat exactly at the lower free-space threshold). A
// filesystem too small to ever hold one is a fatal misconfiguration; one
// merely too full right now gets a warning, since space may come back.
func checkSwapfsCapacity(reader *meminfo.Reader, model pressure.Model, swapPath string, log *logsink.Sink) error {
	snap, err := reader.ReadSnapshot()
	if err != nil {
		return fmt.Errorf("startup memory check: %w", err)
	}
	minSwapfile := model.MinimumSwapfile(snap.MemTotal + snap.SwapTotal)
	if minSwapfile <= 0 {
		return nil
	}

	fsSize, err := swapfs.FilesystemSize(swapPath)
	if err != nil {
		return err
	}
	if fsSize < minSwapfile {
		return fmt.Errorf("the filesystem holding %s (%d bytes) is too small to hold useful swap files (smallest useful: %d bytes); expand it or choose a different swappath",
			swapPath, fsSize, minSwapfile)
	}

	fsFree, err := swapfs.FilesystemFree(swapPath)
	if err != nil {
		return err
	}
	if fsFree < minSwapfile {
		log.Warn("not enough free space on the swap directory; swap files cannot be created until space is freed",
			"swappath", swapPath, "free", fsFree, "needed", minSwapfile)
	}
	return nil
}
