// Package cli implements the lorevault command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/lorevault/internal/logging"
	"github.com/mesh-intelligence/lorevault/internal/paths"
	"github.com/mesh-intelligence/lorevault/internal/sqlite"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// errUsage marks errors caused by bad input rather than a failing store.
var errUsage = errors.New("usage")

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	logLevel  string
	json      bool
}

// app carries what PersistentPreRunE resolves for the subcommands.
type app struct {
	flags   rootFlags
	viper   *viper.Viper
	dataDir string
	log     *zap.Logger
}

// NewRootCmd creates the top-level "lorevault" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}
	root := &cobra.Command{
		Use:   "lorevault",
		Short: "Trash, snapshots and audit for a worldbuilding vault",
		Long: "lorevault stores universes, locations, bestiary entries, timelines, novels\n" +
			"and boards, keeps deleted subtrees in a restorable trash, takes\n" +
			"whole-universe snapshots, and records every change in an audit log.",
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (env "+paths.EnvConfigDir+")")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (env "+paths.EnvDataDir+")")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.flags.json, "json", false, "output in JSON format")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newConfigCmd(a),
		newAddCmd(a),
		newShowCmd(a),
		newUpdateCmd(a),
		newChildrenCmd(a),
		newPurgeCmd(a),
		newTrashCmd(a),
		newSnapshotCmd(a),
		newRelTypeCmd(a),
		newLinkCmd(a),
		newUnlinkCmd(a),
		newLinksCmd(a),
		newAuditCmd(a),
		newCheckCmd(a),
	)
	return root
}

// setup resolves directories, reads config.yaml and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	switch cmd.Name() {
	case "version", "help":
		return nil
	}
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return fmt.Errorf("resolving config dir: %w", err)
	}
	v, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	a.viper = v

	a.dataDir, err = paths.ResolveDataDir(a.flags.dataDir, v.GetString(cfgKeyDataDir))
	if err != nil {
		return fmt.Errorf("resolving data dir: %w", err)
	}

	level := a.flags.logLevel
	if level == "" {
		level = v.GetString(cfgKeyLogLevel)
	}
	log, err := logging.New(level)
	if err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	a.log = log
	return nil
}

// withVault attaches a backend for the duration of fn.
func (a *app) withVault(cmd *cobra.Command, fn func(ctx context.Context, v *sqlite.Backend) error) error {
	cfg, err := vaultConfig(a.viper, a.dataDir)
	if err != nil {
		return err
	}
	v := sqlite.NewBackend(sqlite.WithLogger(a.log))
	if err := v.Attach(cfg); err != nil {
		return fmt.Errorf("attaching %s: %w", a.dataDir, err)
	}
	defer func() {
		if err := v.Detach(); err != nil {
			a.log.Warn("detach failed", zap.Error(err))
		}
	}()
	return fn(cmd.Context(), v)
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "lorevault:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// exitCode maps store and serialization failures to exitSysError and
// everything else, including cobra's argument errors, to exitUserError.
func exitCode(err error) int {
	if errors.Is(err, types.ErrStore) || errors.Is(err, types.ErrSerialization) {
		return exitSysError
	}
	return exitUserError
}
