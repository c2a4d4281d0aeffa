// Handle the "cloudfetch whoami" command
package cmd

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
	"github.com/spf13/cobra"
)

// whoamiCmd represents the whoami command
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the verified identity of the resolved credential",
	Long: `Run authentication and verification only, then print the identity the
provider reported. Nothing is fetched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := fetchManager.StorageProvider()
		if err != nil {
			return err
		}

		ctx, cancel := fetchManager.Context()
		defer cancel()
		identity, err := fetchManager.NewPipeline(provider).Identify(ctx)
		if err != nil {
			return err
		}

		raw, err := json.Marshal(identity)
		if err != nil {
			return errors.Wrap(err, "encode identity")
		}
		out, err := cloudfetch.Render(raw)
		if err != nil {
			return err
		}
		return out.Emit(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
