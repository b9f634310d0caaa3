package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/prinsights/internal/adapter/driven/fsartifact"
)

func newValidateCmd(a *app) *cobra.Command {
	var dataset string

	cmd := &cobra.Command{
		Use:   "validate-dataset",
		Short: "Locate and validate a dataset manifest",
		Long: `validate-dataset searches the given directory for dataset-manifest.json,
including the nested layouts produced by pipeline artifact downloads, and
checks that the manifest is usable.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			root, err := fsartifact.BestDatasetRoot(dataset)
			if err == nil {
				err = fsartifact.ValidateDatasetRoot(root)
			}
			if err != nil {
				a.printStatus(err, "validate-dataset %s", dataset)
				return fmt.Errorf("validate dataset: %w", err)
			}

			slog.Debug("dataset roots", "candidates", fsartifact.FindDatasetRoots(dataset))
			a.printStatus(nil, "dataset root: %s", root)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", ".", "directory to search for a dataset")
	return cmd
}
