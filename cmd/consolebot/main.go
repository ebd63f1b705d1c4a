package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"consolebot-go/internal/config"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions carries the persistent flags shared by subcommands
type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	cmd, _ := newRootCmdWithOptions()
	return cmd
}

func newRootCmdWithOptions() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:           "consolebot",
		Short:         "Keeps game server consoles connected for the groups you manage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the JSON configuration file")
	flags.String("api-url", config.DefaultAPIURL, "Metadata service base URL")
	flags.String("access-token", "", "Access token for the metadata service")
	flags.Int("user-id", 0, "Account id whose membership decides console access")
	flags.IntSlice("groups", nil, "Group ids to manage")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.Bool("status-feed", false, "Serve the local status feed")
	flags.String("status-feed-listen", "", "Status feed listen address")

	bindFlags(opts.v, flags)

	rootCmd.AddCommand(newRunCmd(opts), newVersionCmd())
	return rootCmd, opts
}

// flagKeys maps config keys to the flags that override them
var flagKeys = map[string]string{
	"api_url":             "api-url",
	"access_token":        "access-token",
	"user_id":             "user-id",
	"groups":              "groups",
	"logging.level":       "log-level",
	"status_feed.enabled": "status-feed",
	"status_feed.listen":  "status-feed-listen",
}

// bindFlags lets flags set on the command line override file and env values
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for key, name := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// loadConfig merges defaults, the config file, CONSOLEBOT_ env vars and flags
func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.v, o.configPath)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the consolebot version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "consolebot %s\n", version)
		},
	}
}
