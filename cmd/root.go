// Root of command-line argument parsing.
// This file was based off the standard cobra template, see
// https://github.com/spf13/cobra
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
	"github.com/serverlessresearch/cloudfetch/pkg/fetchmgr"
	"github.com/spf13/cobra"
)

// Filled in by cobra argument parsing in init()
var rootCmdConfig struct {
	cfgFile         string
	provider        string
	profile         string
	credentialsFile string
	region          string
	timeout         time.Duration
	verbose         bool
}

var fetchManager *fetchmgr.FetchManager

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cloudfetch",
	Short: "Fetch one document with verified cloud credentials",
	Long: `Authenticate against a cloud provider (profile file first, then the
instance identity), verify the credential, fetch a single object or public
feed and print it to stdout. JSON documents are pretty-printed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		mgrArgs := map[string]interface{}{}
		if rootCmdConfig.cfgFile != "" {
			mgrArgs["config-file"] = rootCmdConfig.cfgFile
		}
		if rootCmdConfig.provider != "" {
			mgrArgs["provider"] = rootCmdConfig.provider
		}
		if rootCmdConfig.verbose {
			mgrArgs["log-level"] = "debug"
		}

		overrides := map[string]interface{}{}
		if cmd.Flags().Changed("profile") {
			overrides["profile"] = rootCmdConfig.profile
		}
		if cmd.Flags().Changed("credentials-file") {
			overrides["credentials-file"] = rootCmdConfig.credentialsFile
		}
		if cmd.Flags().Changed("region") {
			overrides["region"] = rootCmdConfig.region
		}
		mgrArgs["service-overrides"] = overrides

		var err error
		fetchManager, err = fetchmgr.NewManager(mgrArgs)
		if err != nil {
			return errors.Wrap(err, "Failed to initialize cloudfetch")
		}
		if cmd.Flags().Changed("timeout") {
			fetchManager.Cfg.Set("timeout", rootCmdConfig.timeout)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(cloudfetch.ExitCode(err))
	}
}

func reportError(err error) {
	if fetchManager == nil || fetchManager.Logger == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if stage := cloudfetch.FailedStage(err); stage != cloudfetch.Start {
		fetchManager.Logger.WithField("stage", stage.String()).Error(err)
		return
	}
	fetchManager.Logger.Error(err)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootCmdConfig.cfgFile, "config", "", "config file (default is configs/cloudfetch.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootCmdConfig.provider, "provider", "p", "", "provider to fetch from (default from config: aws)")
	rootCmd.PersistentFlags().StringVar(&rootCmdConfig.profile, "profile", "", "profile to read from the credentials file")
	rootCmd.PersistentFlags().StringVar(&rootCmdConfig.credentialsFile, "credentials-file", "", "shared credentials file (default ~/.aws/credentials)")
	rootCmd.PersistentFlags().StringVarP(&rootCmdConfig.region, "region", "r", "", "region of the storage service")
	rootCmd.PersistentFlags().DurationVar(&rootCmdConfig.timeout, "timeout", 0, "bound on the whole run (default from config: 2m)")
	rootCmd.PersistentFlags().BoolVarP(&rootCmdConfig.verbose, "verbose", "v", false, "log every authentication attempt")
}
