// Handle the "cloudfetch feed" command
package cmd

import (
	"github.com/serverlessresearch/cloudfetch/pkg/cloudfetch"
	"github.com/spf13/cobra"
)

// Filled in by cobra argument parsing in init()
var feedCmdConfig struct {
	url string
}

// feedCmd represents the feed command
var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Fetch a public GeoJSON feed",
	Long: `Fetch a public document over HTTP GET without credentials and print it.
The default is the USGS feed of all earthquakes in the past day.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := fetchManager.FeedProvider()
		if err != nil {
			return err
		}

		url := feedCmdConfig.url
		if url == "" {
			url = provider.URL()
		}

		ctx, cancel := fetchManager.Context()
		defer cancel()
		return fetchManager.NewPipeline(provider).Run(ctx, &cloudfetch.FetchRequest{URL: url}, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(feedCmd)

	feedCmd.Flags().StringVarP(&feedCmdConfig.url, "url", "u", "", "feed to fetch (default from config: USGS all_day)")
}
