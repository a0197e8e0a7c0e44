package ci

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
)

// DefaultArtifactCacheDir caches downloaded artifact archives, named by
// their remote artifact id.
const DefaultArtifactCacheDir = ".anvil/artifacts"

type wireArtifactsPage struct {
	Artifacts []struct {
		ID                 int64  `json:"id"`
		Name               string `json:"name"`
		ArchiveDownloadURL string `json:"archive_download_url"`
		Expired            bool   `json:"expired"`
	} `json:"artifacts"`
}

// FetchRunArtifacts downloads the artifacts of one run whose names match the
// glob pattern and returns the extracted files keyed by archive-internal
// path. Downloaded archives are cached under .anvil/artifacts by artifact id
// so re-parsing a run does not re-download.
func (c *Client) FetchRunArtifacts(ctx context.Context, runID int64, namePattern string) (map[string][]byte, error) {
	matcher, err := glob.Compile(namePattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad artifact pattern %q: %v", ErrCI, namePattern, err)
	}

	body, err := c.get(ctx, fmt.Sprintf("/actions/runs/%d/artifacts", runID))
	if err != nil {
		return nil, err
	}

	var page wireArtifactsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("%w: malformed artifacts response: %v", ErrCI, err)
	}

	files := map[string][]byte{}

	for _, artifact := range page.Artifacts {
		if artifact.Expired || !matcher.Match(artifact.Name) {
			continue
		}

		archive, err := c.fetchArchive(ctx, artifact.ID, runID)
		if err != nil {
			return nil, err
		}

		if err := extractZip(archive, files); err != nil {
			return nil, fmt.Errorf("%w: artifact %s: %v", ErrCI, artifact.Name, err)
		}

		c.logger.Info("Fetched run artifact",
			slog.Int64("run_id", runID),
			slog.String("name", artifact.Name),
		)
	}

	return files, nil
}

// fetchArchive returns an artifact's zip bytes, from cache when present.
func (c *Client) fetchArchive(ctx context.Context, artifactID, runID int64) ([]byte, error) {
	cachePath := filepath.Join(DefaultArtifactCacheDir, fmt.Sprintf("%d-%d.zip", runID, artifactID))

	if cached, err := os.ReadFile(cachePath); err == nil {
		return cached, nil
	}

	archive, err := c.get(ctx, fmt.Sprintf("/actions/artifacts/%d/zip", artifactID))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(DefaultArtifactCacheDir, 0o755); err == nil {
		_ = os.WriteFile(cachePath, archive, 0o644)
	}

	return archive, nil
}

func extractZip(archive []byte, into map[string][]byte) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return err
	}

	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return err
		}

		content, err := io.ReadAll(rc)
		rc.Close()

		if err != nil {
			return err
		}

		into[file.Name] = content
	}

	return nil
}
