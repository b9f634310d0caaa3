// Command datasetcheck exits 0 when a valid dataset manifest can be found
// under PRINSIGHTS_DATASET_DIR (default "."). It is used as a container
// health check for the dashboard volume.
package main

import (
	"os"

	"github.com/ericfisherdev/prinsights/internal/adapter/driven/fsartifact"
)

func main() {
	os.Exit(check(datasetDir(os.Getenv("PRINSIGHTS_DATASET_DIR"))))
}

func check(dir string) int {
	root, err := fsartifact.BestDatasetRoot(dir)
	if err != nil {
		return 1
	}

	if err := fsartifact.ValidateDatasetRoot(root); err != nil {
		return 1
	}

	return 0
}

func datasetDir(raw string) string {
	if raw == "" {
		return "."
	}
	return raw
}
