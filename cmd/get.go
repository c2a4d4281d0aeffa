// Handle the "cloudfetch get" command
package cmd

import (
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
	"github.com/spf13/cobra"
)

// Filled in by cobra argument parsing in init()
var getCmdConfig struct {
	namespace string
	bucket    string
	object    string
}

// getCmd represents the get command
var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Fetch one object from the configured storage provider",
	Long: `Resolve credentials for the configured provider, verify them and print
the named object. Bucket and object default to the "request" section of the
config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := fetchManager.StorageProvider()
		if err != nil {
			return err
		}

		req := fetchManager.ObjectRequest(cloudfetch.FetchRequest{
			Namespace: getCmdConfig.namespace,
			Bucket:    getCmdConfig.bucket,
			Object:    getCmdConfig.object,
		})

		ctx, cancel := fetchManager.Context()
		defer cancel()
		return fetchManager.NewPipeline(provider).Run(ctx, req, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(getCmd)

	getCmd.Flags().StringVarP(&getCmdConfig.namespace, "namespace", "n", "", "account expected to own the bucket")
	getCmd.Flags().StringVarP(&getCmdConfig.bucket, "bucket", "b", "", "bucket holding the object")
	getCmd.Flags().StringVarP(&getCmdConfig.object, "object", "o", "", "object key")
}
