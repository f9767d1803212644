package main

import (
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/provider"
)

var (
	discoverPortals []string
	discoverLimit   int
	discoverNoSave  bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover <query>",
	Short: "Search configured portals for datasets",
	Long:  "Runs the discovery query against every configured portal in parallel. Per-portal calls stay serialized by the rate limiter. Results are upserted into the local dataset index.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := args[0]

		portals := configuredPortals(discoverPortals)
		if len(portals) == 0 {
			return eris.New("cmd: no portals configured; use --portal or config portals")
		}

		client := newFetcher()
		deps := providerDeps(client)

		var (
			mu  sync.Mutex
			all []model.Dataset
		)
		g, gctx := errgroup.WithContext(ctx)
		for _, portal := range portals {
			g.Go(func() error {
				p := portal
				if p.Type == "" || p.Type == model.PortalUnknown {
					p.Type = provider.Probe(gctx, p.URL, deps)
				}
				drv := provider.New(p, deps)
				datasets, err := drv.DiscoverDatasets(gctx, query, discoverLimit)
				if err != nil {
					zap.L().Warn("discovery failed",
						zap.String("portal", p.URL),
						zap.Error(err),
					)
					return nil
				}
				mu.Lock()
				all = append(all, datasets...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "cmd: discover")
		}

		if !discoverNoSave {
			st, err := initStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return eris.Wrap(err, "cmd: migrate store")
			}
			for _, ds := range all {
				if err := st.UpsertDataset(ctx, ds); err != nil {
					zap.L().Warn("dataset upsert failed",
						zap.String("dataset", ds.Title),
						zap.Error(err),
					)
				}
			}
		}

		zap.L().Info("discovery complete",
			zap.Int("portals", len(portals)),
			zap.Int("datasets", len(all)),
		)
		return printJSON(all)
	},
}

func init() {
	discoverCmd.Flags().StringArrayVar(&discoverPortals, "portal", nil, "portal base URL (repeatable)")
	discoverCmd.Flags().IntVar(&discoverLimit, "limit", 25, "max datasets per portal")
	discoverCmd.Flags().BoolVar(&discoverNoSave, "no-save", false, "skip persisting to the dataset index")
	rootCmd.AddCommand(discoverCmd)
}
