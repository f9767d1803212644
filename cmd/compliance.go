package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/compliance"
	"github.com/sells-group/evidence-cli/internal/model"
	"github.com/sells-group/evidence-cli/internal/store"
)

var (
	complianceSourcesPath  string
	complianceDatasetsPath string
	compliancePolicyPath   string
	complianceMode         string
)

var complianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Enforce the usage policy over sources and datasets",
	Long:  "Evaluates datasets against the license/terms/access blocklists and the zero-cost gates, then decides which sources may be used. Datasets come from a .json file or, by default, the local dataset index.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if complianceSourcesPath == "" {
			return eris.New("cmd: --sources is required")
		}
		sources, err := loadSources(complianceSourcesPath)
		if err != nil {
			return err
		}

		policyPath := compliancePolicyPath
		if policyPath == "" {
			policyPath = cfg.Compliance.PolicyPath
		}
		policy := compliance.DefaultPolicy()
		if policyPath != "" {
			policy, err = compliance.LoadPolicy(policyPath)
			if err != nil {
				return eris.Wrap(err, "cmd: load policy")
			}
		}
		mode := complianceMode
		if mode == "" {
			mode = cfg.Compliance.Mode
		}
		policy.Mode = compliance.Mode(mode)

		engine, err := compliance.NewEngine(policy)
		if err != nil {
			return eris.Wrap(err, "cmd: compile policy")
		}

		datasets, err := complianceDatasets(ctx)
		if err != nil {
			return err
		}

		usages := engine.ApplyUsageGates(datasets, compliance.UsageOptions{
			ZeroCostMode:      cfg.Compliance.ZeroCostMode,
			AllowPaidAccess:   cfg.Compliance.AllowPaidAccess,
			GatingEnforcement: cfg.Features.GatingEnforcement,
		})
		gated := make([]model.Dataset, 0, len(usages))
		for _, u := range usages {
			gated = append(gated, u.Dataset)
		}

		result := engine.Enforce(sources, gated)
		zap.L().Info("compliance enforcement complete",
			zap.Int("allowed", len(result.AllowedSources)),
			zap.Int("blocked", len(result.BlockedSources)),
			zap.String("gate", result.Summary.GateStatus),
		)
		return printJSON(struct {
			Usages []compliance.Usage           `json:"usages"`
			Result compliance.EnforcementResult `json:"result"`
		}{usages, result})
	},
}

func complianceDatasets(ctx context.Context) ([]model.Dataset, error) {
	if complianceDatasetsPath != "" {
		data, err := os.ReadFile(complianceDatasetsPath)
		if err != nil {
			return nil, eris.Wrap(err, "cmd: read datasets")
		}
		var datasets []model.Dataset
		if err := json.Unmarshal(data, &datasets); err != nil {
			return nil, eris.Wrap(err, "cmd: parse datasets")
		}
		return datasets, nil
	}

	st, err := initStore()
	if err != nil {
		return nil, err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "cmd: migrate store")
	}
	return st.ListDatasets(ctx, store.DatasetFilter{})
}

func init() {
	complianceCmd.Flags().StringVar(&complianceSourcesPath, "sources", "", "path to a source batch (.json array or free text)")
	complianceCmd.Flags().StringVar(&complianceDatasetsPath, "datasets", "", "path to a dataset batch (.json array; default: local index)")
	complianceCmd.Flags().StringVar(&compliancePolicyPath, "policy", "", "compliance policy file (yaml)")
	complianceCmd.Flags().StringVar(&complianceMode, "mode", "", "enforce or audit (default from config)")
	rootCmd.AddCommand(complianceCmd)
}
