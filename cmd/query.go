package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/evidence-cli/internal/geo"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/provider"
)

var (
	queryPortal  string
	queryDataset string
	queryText    string
	queryLat     float64
	queryLon     float64
	queryLimit   int
	queryOffset  int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query one dataset by text or point",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if queryPortal == "" || queryDataset == "" {
			return eris.New("cmd: --portal and --dataset are required")
		}

		client := newFetcher()
		deps := providerDeps(client)
		portal := model.Portal{URL: queryPortal}
		portal.Type = provider.Probe(ctx, portal.URL, deps)
		drv := provider.New(portal, deps)

		input := provider.QueryInput{
			DatasetID:  queryDataset,
			SearchText: queryText,
			Limit:      queryLimit,
			Offset:     queryOffset,
		}

		var (
			result *provider.Result
			err    error
		)
		if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
			input.Point = &geo.Point{Lat: queryLat, Lon: queryLon}
			result, err = drv.QueryByGeometry(ctx, input)
		} else {
			result, err = drv.QueryByText(ctx, input)
		}
		if err != nil {
			return eris.Wrap(err, "cmd: query")
		}
		return printJSON(result)
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryPortal, "portal", "", "portal base URL")
	queryCmd.Flags().StringVar(&queryDataset, "dataset", "", "dataset id")
	queryCmd.Flags().StringVar(&queryText, "text", "", "free-text search filter")
	queryCmd.Flags().Float64Var(&queryLat, "lat", 0, "point latitude")
	queryCmd.Flags().Float64Var(&queryLon, "lon", 0, "point longitude")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 25, "row limit")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "row offset")
	rootCmd.AddCommand(queryCmd)
}
