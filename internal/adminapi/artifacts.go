package adminapi

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Zeeeepa/browserqa/internal/types"
)

// persistCrawlArtifact writes result as indented JSON under
// dir/<runID>.json, using the same write-to-temp-then-rename pattern
// healing's fileStore.Save uses so a crash mid-write never leaves a
// half-written artifact behind. runID has already passed
// security.ValidateRunID, so it is safe to use as a path component.
func persistCrawlArtifact(dir, runID string, result *types.CrawlResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, runID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
