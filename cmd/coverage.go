package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/evidence-cli/internal/coverage"
	"github.com/sells-group/evidence-cli/internal/model"
)

var (
	coverageSourcesPath string
	coverageMatrixPath  string
)

var coverageJurisdiction *model.Jurisdiction

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Evaluate primary-record coverage for a jurisdiction",
	Long:  "Matches a classified source batch against the six primary record types and the jurisdiction availability matrix, reporting covered, missing, and provably-unavailable records separately.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if coverageSourcesPath == "" {
			return eris.New("cmd: --sources is required")
		}
		sources, err := loadSources(coverageSourcesPath)
		if err != nil {
			return err
		}

		matrixPath := coverageMatrixPath
		if matrixPath == "" {
			matrixPath = cfg.Coverage.MatrixPath
		}
		matrix := coverage.DefaultMatrix()
		if matrixPath != "" {
			matrix, err = coverage.LoadMatrix(matrixPath)
			if err != nil {
				return eris.Wrap(err, "cmd: load matrix")
			}
		}

		report := coverage.Evaluate(sources, *coverageJurisdiction, matrix)
		return printJSON(report)
	},
}

func init() {
	coverageCmd.Flags().StringVar(&coverageSourcesPath, "sources", "", "path to a source batch (.json array or free text)")
	coverageCmd.Flags().StringVar(&coverageMatrixPath, "matrix", "", "jurisdiction availability matrix (yaml)")
	coverageJurisdiction = jurisdictionFlags(coverageCmd)
	rootCmd.AddCommand(coverageCmd)
}
