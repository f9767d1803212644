package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/evidence"
	"github.com/sells-group/evidence-cli/internal/evidencepack"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/pkg/geocode"
)

var evidenceSourcesPath string

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Score a source batch against the evidence gate",
	Long:  "Normalizes, classifies, and scores a batch of candidate sources, then reports whether it meets the minimum evidence thresholds.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if evidenceSourcesPath == "" {
			return eris.New("cmd: --sources is required")
		}
		sources, err := loadSources(evidenceSourcesPath)
		if err != nil {
			return err
		}

		status := evidence.Evaluate(sources)
		return printJSON(struct {
			Sources []model.Source      `json:"sources"`
			Gate    evidence.GateStatus `json:"gate"`
			Reasons []string            `json:"reasons,omitempty"`
		}{
			Sources: sources,
			Gate:    status,
			Reasons: evidence.GateReasons(status),
		})
	},
}

var (
	packAddress string
	packGeocode bool
)

var evidencePackCmd = &cobra.Command{
	Use:   "pack",
	Short: "Run the Dallas open-data evidence pack for an address",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if packAddress == "" {
			return eris.New("cmd: --address is required")
		}
		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "cmd: migrate store")
		}

		client := newFetcher()
		opts := evidencepack.Options{
			AppToken: cfg.Auth.SocrataAppToken,
			Store:    st,
		}
		if packGeocode {
			opts.Geocoder = geocode.New(client, geocode.Options{
				Email:    cfg.Auth.GeocodingEmail,
				Endpoint: cfg.Geocode.Endpoint,
				CacheTTL: time.Duration(cfg.Geocode.CacheTTLDays) * 24 * time.Hour,
				Store:    st,
			})
		}

		pack := evidencepack.New(client, opts)
		result, err := pack.Run(ctx, evidencepack.Input{
			Address:      packAddress,
			Jurisdiction: *packJurisdiction,
		})
		if err != nil {
			return eris.Wrap(err, "cmd: evidence pack")
		}

		zap.L().Info("evidence pack complete",
			zap.Int("sources", len(result.Sources)),
			zap.Int("gaps", len(result.DataGaps)),
			zap.Int("attempts", len(result.QueryAttempts)),
		)
		return printJSON(result)
	},
}

var packJurisdiction *model.Jurisdiction

func init() {
	evidenceCmd.Flags().StringVar(&evidenceSourcesPath, "sources", "", "path to a source batch (.json array or free text)")

	evidencePackCmd.Flags().StringVar(&packAddress, "address", "", "property street address")
	evidencePackCmd.Flags().BoolVar(&packGeocode, "geocode", true, "enable the geometry-radius fallback via Nominatim")
	packJurisdiction = jurisdictionFlags(evidencePackCmd)

	evidenceCmd.AddCommand(evidencePackCmd)
	rootCmd.AddCommand(evidenceCmd)
}
