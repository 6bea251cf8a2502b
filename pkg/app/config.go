package app

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"

	"github.com/tanay1904/Drone/pkg/log"
)

const configFlagName = "config"

func addConfigFlag(name string, fs *pflag.FlagSet) {
	fs.StringP(configFlagName, "c", "", fmt.Sprintf("Read configuration from the specified file (yaml, json or toml). Environment variables prefixed with %s_ override it.", envPrefix(name)))
}

// envPrefix turns drone-gateway into DRONE_GATEWAY.
func envPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// loadConfig merges flags, the config file and the environment into the
// option tree.
func (a *App) loadConfig(fs *pflag.FlagSet) error {
	a.v.SetEnvPrefix(envPrefix(a.name))
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.BindPFlags(fs); err != nil {
		return err
	}

	if file, _ := fs.GetString(configFlagName); file != "" {
		a.v.SetConfigFile(file)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read configuration file %s: %w", file, err)
		}
	}

	if a.options == nil {
		return nil
	}
	if err := a.v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return nil
}

// watchConfig reloads the options whenever the config file changes. Options
// that fail validation are kept but not applied.
func (a *App) watchConfig() {
	if a.v.ConfigFileUsed() == "" {
		return
	}

	a.v.OnConfigChange(func(e fsnotify.Event) {
		if err := a.v.Unmarshal(a.options); err != nil {
			log.Error(err, "Failed to reload configuration", "file", e.Name)
			return
		}
		if err := a.options.Validate(); err != nil {
			log.Error(err, "Reloaded configuration is invalid", "file", e.Name)
			return
		}
		log.Info("Configuration reloaded", "file", e.Name, "op", e.Op.String())
		a.reloadFunc()
	})
	a.v.WatchConfig()
}
