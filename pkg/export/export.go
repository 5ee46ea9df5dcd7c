// Package export renders finished jobs into the formats the operator-facing
// layer hands out: a CSV report, a JSON envelope, and ZIP bundles of the
// saved normalized images filtered by verdict. Everything here is a pure
// function over the fields the batch layer guarantees.
package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/cleaning-check/pkg/types"
)

// CSV renders one row per image: job_id, index, file, verdict, stage,
// comments (joined by " / ").
func CSV(jobID string, results []types.ImageResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"job_id", "index", "file", "verdict", "stage", "comments"}); err != nil {
		return nil, err
	}
	for _, r := range results {
		row := []string{
			jobID,
			fmt.Sprintf("%04d", r.Index),
			r.File,
			string(r.Verdict),
			string(r.Stage),
			strings.Join(r.Comments, " / "),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// envelope is the JSON export shape consumed by downstream tooling.
type envelope struct {
	JobID   string              `json:"job_id"`
	Summary *types.JobSummary   `json:"summary"`
	Images  []types.ImageResult `json:"images"`
}

// JSON renders the {job_id, summary, images} envelope, indented.
func JSON(jobID string, summary *types.JobSummary, results []types.ImageResult) ([]byte, error) {
	return json.MarshalIndent(envelope{JobID: jobID, Summary: summary, Images: results}, "", "  ")
}

// ZipByVerdict bundles the saved normalized images whose verdict matches
// want. Images missing from the scratch directory are skipped, matching the
// degraded decode path where nothing was saved.
func ZipByVerdict(baseDir string, results []types.ImageResult, want types.Verdict) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, r := range results {
		if r.Verdict != want {
			continue
		}
		path := filepath.Join(baseDir, r.File)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		f, err := zw.Create(r.File)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
