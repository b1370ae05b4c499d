package main

import (
	"github.com/spf13/cobra"

	"github.com/tendant/simple-filestore/pkg/filestore/config"
)

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	cfgFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "filestore",
		Short: "Content-addressed file store",
		Long: `filestore keeps files under caller-chosen ids while storing each distinct
content only once, addressed by its hash.

Backends are chosen with METADATA_URL and STORAGE_URL, or the matching keys
of the file passed with --config. Environment variables override the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	root.AddCommand(
		c.newServeCmd(),
		c.newPurgeCmd(),
		c.newVerifyCmd(),
		c.newTouchCmd(),
		c.newMigrateCmd(),
	)
	return root
}

// load reads the config file, if any, then the environment, then opts.
func (c *cli) load(opts ...config.Option) (*config.ServerConfig, error) {
	base := []config.Option{config.WithFile(c.cfgFile), config.WithEnv()}
	return config.Load(append(base, opts...)...)
}
