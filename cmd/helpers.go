package main

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/evidence-cli/internal/evidence"
	"github.com/sells-group/evidence-cli/internal/fetcher"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/provider"
	"github.com/sells-group/evidence-cli/internal/store"
	"github.com/sells-group/evidence-cli/internal/telemetry"
)

// recorder collects portal error telemetry for the life of the process.
var recorder = telemetry.NewRecorder()

func initStore() (*store.SQLiteStore, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func newFetcher() *fetcher.Client {
	return fetcher.NewClient(fetcher.Options{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		Retries:      cfg.Fetch.Retries,
		MaxBodyBytes: int64(cfg.Fetch.MaxBodyMB) << 20,
		Recorder:     recorder,
	})
}

func providerDeps(client *fetcher.Client) provider.Deps {
	return provider.Deps{
		Client: client,
		Auth: provider.Auth{
			SocrataAppToken: cfg.Auth.SocrataAppToken,
			ArcGISAPIKey:    cfg.Auth.ArcGISAPIKey,
		},
	}
}

// configuredPortals merges the config portal list with any --portal flags.
func configuredPortals(flagPortals []string) []model.Portal {
	var portals []model.Portal
	for _, pc := range cfg.Portals {
		portals = append(portals, model.Portal{
			URL:  pc.URL,
			Type: model.PortalType(pc.Type),
			Name: pc.Name,
		})
	}
	for _, raw := range flagPortals {
		portals = append(portals, model.Portal{URL: raw})
	}
	return portals
}

// loadSources reads a source batch from a file. A .json file must hold an
// array of sources; anything else is treated as free text and mined for
// URLs.
func loadSources(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "cmd: read sources")
	}
	if strings.HasSuffix(path, ".json") {
		var sources []model.Source
		if err := json.Unmarshal(data, &sources); err != nil {
			return nil, eris.Wrap(err, "cmd: parse sources")
		}
		return sources, nil
	}
	sources, _ := evidence.NormalizeFromText(string(data))
	return sources, nil
}

func jurisdictionFlags(cmd *cobra.Command) *model.Jurisdiction {
	j := &model.Jurisdiction{}
	cmd.Flags().StringVar(&j.Country, "country", "US", "jurisdiction country")
	cmd.Flags().StringVar(&j.State, "state", "", "jurisdiction state")
	cmd.Flags().StringVar(&j.County, "county", "", "jurisdiction county")
	cmd.Flags().StringVar(&j.City, "city", "", "jurisdiction city")
	return j
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
