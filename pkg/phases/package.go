package phases

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mercator-hq/saturn/pkg/driver"
	"mercator-hq/saturn/pkg/ledger/export"
	"mercator-hq/saturn/pkg/pipeline"
)

// Files written into a bundle besides the report.
const (
	LedgerFile       = "ledger.json"
	ClaimsFile       = "claims.csv"
	ManifestFileName = "manifest.json"
)

// BundleManifest describes a committed bundle.
type BundleManifest struct {
	RunID       string         `json:"run_id"`
	Topic       string         `json:"topic"`
	Fingerprint string         `json:"fingerprint"`
	Files       []ManifestFile `json:"files"`
}

// ManifestFile is one file of a bundle with its content hash.
type ManifestFile struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

func (p *builtin) packaging() driver.PhaseSpec {
	return driver.PhaseSpec{
		Name:        Packaging,
		Granularity: pipeline.WholePhase,
		Run:         p.stage,
		Observe:     p.observeUnresolved,
		Commit:      p.commit,
	}
}

// stage writes the full bundle into the staging directory. Nothing outside
// staging is touched until commit.
func (p *builtin) stage(ctx context.Context, run *pipeline.Run) error {
	dir := StagingDir(p.OutputDir, run.ID)

	report, err := os.ReadFile(filepath.Join(dir, ReportFile))
	if errors.Is(err, os.ErrNotExist) {
		if report, err = p.renderReport(ctx, run); err == nil {
			err = writeFile(dir, ReportFile, report)
		}
	}
	if err != nil {
		return fmt.Errorf("stage report: %w", err)
	}

	bundle, err := export.Load(ctx, p.Ledger, run.ID)
	if err != nil {
		return err
	}
	files := map[string][]byte{ReportFile: report}
	for _, out := range []struct {
		name string
		exp  export.Exporter
	}{
		{LedgerFile, export.NewJSONExporter(true)},
		{ClaimsFile, export.NewCSVExporter(true)},
	} {
		var buf bytes.Buffer
		if err := out.exp.Export(ctx, bundle, &buf); err != nil {
			return err
		}
		if err := writeFile(dir, out.name, buf.Bytes()); err != nil {
			return err
		}
		files[out.name] = buf.Bytes()
	}

	manifest := BundleManifest{RunID: run.ID, Topic: run.Topic, Fingerprint: run.Fingerprint}
	for _, name := range []string{ReportFile, LedgerFile, ClaimsFile} {
		manifest.Files = append(manifest.Files, ManifestFile{
			Name:   name,
			SHA256: pipeline.HashContent(files[name]),
			Size:   len(files[name]),
		})
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return pipeline.Permanent(err)
	}
	if err := writeFile(dir, ManifestFileName, append(data, '\n')); err != nil {
		return err
	}

	p.Logger.Info("bundle staged",
		"run_id", run.ID,
		"dir", dir,
		"claims", len(bundle.Claims),
		"unresolved", len(bundle.Unresolved),
	)
	return nil
}

// commit moves the staged bundle into place, replacing any earlier bundle.
func (p *builtin) commit(_ context.Context, run *pipeline.Run) error {
	staging := StagingDir(p.OutputDir, run.ID)
	bundle := BundleDir(p.OutputDir, run.ID)

	if _, err := os.Stat(staging); errors.Is(err, os.ErrNotExist) {
		if _, err := os.Stat(bundle); err == nil {
			// Committed by an earlier attempt that stopped before the checkpoint.
			return nil
		}
		return fmt.Errorf("commit bundle: staging directory %s is missing", staging)
	}
	if err := os.RemoveAll(bundle); err != nil {
		return fmt.Errorf("commit bundle: %w", err)
	}
	if err := os.Rename(staging, bundle); err != nil {
		return fmt.Errorf("commit bundle: %w", err)
	}

	p.Logger.Info("bundle committed", "run_id", run.ID, "dir", bundle)
	return nil
}
