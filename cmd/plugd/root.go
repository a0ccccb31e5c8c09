package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kingrea/plugd/internal/config"
)

var version = "dev"

// cli carries state shared by every subcommand.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix("PLUGD")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "plugd",
		Short:         "Start plugins in dependency order and wait until they are ready",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("project", "p", "", "project directory (default: current directory)")
	root.PersistentFlags().String("log-level", "", "override log.level from .plugd/config.yaml")
	_ = c.v.BindPFlag("project", root.PersistentFlags().Lookup("project"))
	_ = c.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		c.newInitCmd(),
		c.newValidateCmd(),
		c.newOrderCmd(),
		c.newRunCmd(),
		c.newHistoryCmd(),
	)
	return root
}

func (c *cli) projectDir() (string, error) {
	dir := strings.TrimSpace(c.v.GetString("project"))
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	return abs, nil
}

// loadConfig reads .plugd/config.yaml and applies flag and PLUGD_* overrides.
func (c *cli) loadConfig() (*config.Config, error) {
	dir, err := c.projectDir()
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if level := strings.TrimSpace(c.v.GetString("log.level")); level != "" {
		cfg.Project.Log.Level = strings.ToLower(level)
	}
	if timeout := c.v.GetDuration("startup.readiness_timeout"); timeout > 0 {
		cfg.Project.Startup.ReadinessTimeout = timeout
	}
	return cfg, nil
}
