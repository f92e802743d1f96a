package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/lorevault/internal/paths"
	"github.com/mesh-intelligence/lorevault/pkg/types"
)

// Config keys in config.yaml.
const (
	cfgKeyDataDir          = "data_dir"
	cfgKeyLogLevel         = "log.level"
	cfgKeyRetentionDays    = "trash.retention_days"
	cfgKeyPruneOnAttach    = "trash.prune_on_attach"
	cfgKeyPositionPolicy   = "restore.position_policy"
	cfgKeyNamePolicy       = "restore.name_policy"
	cfgKeyCompressionLevel = "snapshot.compression_level"
)

// envKeys can be overridden by environment variables named by envName.
// data_dir is left out: LOREVAULT_DATA_DIR ranks below config.yaml and is
// handled by paths.ResolveDataDir.
var envKeys = []string{
	cfgKeyLogLevel,
	cfgKeyRetentionDays,
	cfgKeyPruneOnAttach,
	cfgKeyPositionPolicy,
	cfgKeyNamePolicy,
	cfgKeyCompressionLevel,
}

// envName maps "trash.retention_days" to LOREVAULT_TRASH_RETENTION_DAYS.
func envName(key string) string {
	return "LOREVAULT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# lorevault configuration

# Data directory (optional; overridable by --data-dir and LOREVAULT_DATA_DIR)
# data_dir:

log:
  level: warn

trash:
  retention_days: 14
  prune_on_attach: false

restore:
  # keep | append | fail
  position_policy: keep
  # keep | rename | fail
  name_policy: keep

snapshot:
  # 1 (fastest) to 4 (smallest)
  compression_level: 2
`

// loadConfig reads config.yaml from configDir, creating the directory and a
// default file on first run.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, err
	}

	defaults := types.DefaultConfig("")
	v := viper.New()
	v.SetDefault(cfgKeyLogLevel, "warn")
	v.SetDefault(cfgKeyRetentionDays, defaults.RetentionDays)
	v.SetDefault(cfgKeyPruneOnAttach, false)
	v.SetDefault(cfgKeyPositionPolicy, string(defaults.Restore.Position))
	v.SetDefault(cfgKeyNamePolicy, string(defaults.Restore.Name))
	v.SetDefault(cfgKeyCompressionLevel, defaults.CompressionLevel)

	for _, key := range envKeys {
		if err := v.BindEnv(key, envName(key)); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	v.SetConfigFile(filepath.Join(configDir, paths.ConfigFileName))
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return v, nil
}

// ensureDefaultConfigFile creates config.yaml unless it already exists.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, paths.ConfigFileName)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// vaultConfig builds the backend configuration from v and validates it.
func vaultConfig(v *viper.Viper, dataDir string) (types.Config, error) {
	cfg := types.Config{
		DataDir:       dataDir,
		RetentionDays: v.GetInt(cfgKeyRetentionDays),
		PruneOnAttach: v.GetBool(cfgKeyPruneOnAttach),
		Restore: types.RestoreOptions{
			Position: types.PositionPolicy(v.GetString(cfgKeyPositionPolicy)),
			Name:     types.NamePolicy(v.GetString(cfgKeyNamePolicy)),
		},
		CompressionLevel: v.GetInt(cfgKeyCompressionLevel),
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, fmt.Errorf("%w: %w", errUsage, err)
	}
	return cfg, nil
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := vaultConfig(a.viper, a.dataDir)
			if err != nil {
				return err
			}
			out := struct {
				ConfigFile string `json:"config_file"`
				LogLevel   string `json:"log_level"`
				types.Config
			}{
				ConfigFile: a.viper.ConfigFileUsed(),
				LogLevel:   a.viper.GetString(cfgKeyLogLevel),
				Config:     cfg,
			}
			if a.flags.json {
				return printJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Config file:       %s\n", out.ConfigFile)
			fmt.Fprintf(w, "Data dir:          %s\n", cfg.DataDir)
			fmt.Fprintf(w, "Log level:         %s\n", out.LogLevel)
			fmt.Fprintf(w, "Retention:         %d days (prune on attach: %t)\n", cfg.RetentionDays, cfg.PruneOnAttach)
			fmt.Fprintf(w, "Restore policies:  position=%s name=%s\n", cfg.Restore.Position, cfg.Restore.Name)
			fmt.Fprintf(w, "Compression level: %d\n", cfg.CompressionLevel)
			return nil
		},
	}
}
