// main wires the reconciliation engine to a concrete repository, transport,
// and cache, and exposes it as a small cobra CLI: diff, apply, and
// decommission, each running exactly one pass over the fleet (or one host)
// and exiting. The engine itself has no CLI or network listener of its own;
// everything in this package is wiring and output formatting.
package main

import (
	"fmt"
	"os"
	"sort"

	clog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/securesshmanager/ssm/internal/cache"
	"github.com/securesshmanager/ssm/internal/config"
	"github.com/securesshmanager/ssm/internal/events"
	"github.com/securesshmanager/ssm/internal/logging"
	"github.com/securesshmanager/ssm/internal/reconcile"
	"github.com/securesshmanager/ssm/internal/repository/bunrepo"
	"github.com/securesshmanager/ssm/internal/sshutil"
)

var version = "dev"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds everything a subcommand needs once the root command's
// PersistentPreRunE has finished wiring it.
type app struct {
	store  *bunrepo.Store
	engine *reconcile.Engine
}

// NewRootCmd builds the ssmd root command and its subcommands. Separated
// from main so tests (and, eventually, other entry points) can construct an
// isolated command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	var logLevel string
	var a app

	cmd := &cobra.Command{
		Use:     "ssmd",
		Short:   "ssmd reconciles authorized_keys files against a central repository.",
		Version: version,
		Long: `ssmd is the command-line front end for the secure-ssh-manager engine.
It loads one config file, opens the configured repository, and runs a
single diff, apply, or decommission pass over the fleet before exiting.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := cmd.Context()
			store, err := bunrepo.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return fmt.Errorf("open repository: %w", err)
			}

			signer, err := loadSigner(cfg.SSH.PrivateKeyPath)
			if err != nil {
				store.Close()
				return fmt.Errorf("load ssh key %q: %w", cfg.SSH.PrivateKeyPath, err)
			}

			factory := &reconcile.TransportSessionFactory{
				Hosts:          store,
				Signer:         signer,
				ConnectTimeout: cfg.SSH.ConnectTimeoutMS,
			}

			c, err := cache.New(cfg.Cache.Capacity, cfg.Cache.DefaultTTLMS, reconcile.FetchFunc(factory, cfg.Reconcile.PerHostConcurrency))
			if err != nil {
				store.Close()
				return fmt.Errorf("build observed-state cache: %w", err)
			}

			sink := events.NewSink(true)
			a.store = store
			a.engine = reconcile.New(store, c, sink, factory, cfg.Reconcile.FleetConcurrency, cfg.Reconcile.PerHostConcurrency)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.store != nil {
				return a.store.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the config file (default: platform config dir)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", `minimum log level ("debug", "info", "warn", "error")`)

	cmd.AddCommand(
		newDiffCmd(&a),
		newApplyCmd(&a),
		newDecommissionCmd(&a),
	)
	return cmd
}

func newDiffCmd(a *app) *cobra.Command {
	var hostID int
	var all bool
	var force bool

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Report drift between expected and observed authorized_keys state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (hostID != 0) {
				return fmt.Errorf("exactly one of --host or --all must be given")
			}

			ctx := cmd.Context()
			if all {
				reports, err := a.engine.DiffAll(ctx)
				if err != nil {
					return err
				}
				failed := 0
				for report := range reports {
					printDiffReport(report)
					if report.Err != nil {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d host(s) failed to diff", failed)
				}
				return nil
			}

			report := a.engine.DiffOne(ctx, hostID, force)
			printDiffReport(report)
			return report.Err
		},
	}

	cmd.Flags().IntVar(&hostID, "host", 0, "host ID to diff")
	cmd.Flags().BoolVar(&all, "all", false, "diff every non-disabled host")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the observed-state cache (ignored with --all)")
	return cmd
}

func printDiffReport(report reconcile.HostReport) {
	if report.Err != nil {
		fmt.Printf("host %d: error: %v\n", report.HostID, report.Err)
		return
	}
	fmt.Println(sshutil.FormatDiffSummary(fmt.Sprintf("host %d", report.HostID), report.ObservedSummary))
	logins := make([]string, 0, len(report.PerLogin))
	for login := range report.PerLogin {
		logins = append(logins, login)
	}
	sort.Strings(logins)
	for _, login := range logins {
		for _, item := range report.PerLogin[login] {
			fmt.Printf("  %s\n", sshutil.FormatDiffItem(item))
		}
	}
}

func newApplyCmd(a *app) *cobra.Command {
	var hostID int
	var all bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Write the expected authorized_keys state to the fleet.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (hostID != 0) {
				return fmt.Errorf("exactly one of --host or --all must be given")
			}

			ctx := cmd.Context()
			if all {
				reports, err := a.engine.ApplyAll(ctx, func(hostID int, phase reconcile.Phase) {
					logging.Infof("host %d: %s", hostID, phase)
				})
				if err != nil {
					return err
				}
				failed := 0
				for report := range reports {
					printAppliedReport(report)
					if report.Err != nil {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d host(s) failed to apply", failed)
				}
				return nil
			}

			report := a.engine.ApplyOne(ctx, hostID, nil)
			printAppliedReport(report)
			return report.Err
		},
	}

	cmd.Flags().IntVar(&hostID, "host", 0, "host ID to apply")
	cmd.Flags().BoolVar(&all, "all", false, "apply every non-disabled host, sequentially")
	return cmd
}

func printAppliedReport(report reconcile.AppliedReport) {
	if report.Err != nil {
		fmt.Printf("host %d: error: %v\n", report.HostID, report.Err)
		return
	}
	applied, skipped := 0, 0
	for _, r := range report.PerLogin {
		switch {
		case r.Applied:
			applied++
		case r.Skipped:
			skipped++
		}
	}
	fmt.Printf("host %d: %d login(s) applied, %d skipped\n", report.HostID, applied, skipped)
}

func newDecommissionCmd(a *app) *cobra.Command {
	var hostID int
	var removeManagedContent bool
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "decommission",
		Short: "Revoke a host's managed access and remove it from the repository.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hostID == 0 {
				return fmt.Errorf("--host is required")
			}
			result := reconcile.DecommissionHost(cmd.Context(), a.engine, hostID, reconcile.DecommissionOptions{
				RemoveManagedContent: removeManagedContent,
				DryRun:               dryRun,
			})
			if result.Err != nil {
				return result.Err
			}
			if result.HostRemoved {
				fmt.Printf("host %d decommissioned\n", hostID)
			} else {
				fmt.Printf("host %d: dry run, no changes made\n", hostID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&hostID, "host", 0, "host ID to decommission")
	cmd.Flags().BoolVar(&removeManagedContent, "remove-managed-content", true, "rewrite every managed login to header-only before removing the host")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would happen without writing or deleting anything")
	return cmd
}

// parseLogLevel maps the --log-level flag to a charmbracelet/log Level.
func parseLogLevel(s string) (clog.Level, error) {
	switch s {
	case "debug":
		return clog.DebugLevel, nil
	case "info":
		return clog.InfoLevel, nil
	case "warn", "warning":
		return clog.WarnLevel, nil
	case "error":
		return clog.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// loadSigner reads an SSH private key from path and parses it into a
// Signer used to authenticate every hop of a jump chain.
func loadSigner(path string) (ssh.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
