package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/thebtf/clusterlens/pkg/models"
)

// ManifestName is the archive entry describing an export.
const ManifestName = "manifest.yaml"

// ArchiveName returns the download file name for a cluster label.
func ArchiveName(label int) string {
	return fmt.Sprintf("group_%d.zip", label+1)
}

// ExportSummary describes a written archive.
type ExportSummary struct {
	FileName string
	Included []int64
	Skipped  []int64
	Label    int
}

type manifest struct {
	Cluster       int             `yaml:"cluster"`
	Archive       string          `yaml:"archive"`
	ExportedAt    string          `yaml:"exported_at"`
	Coherence     models.Band     `yaml:"coherence"`
	AvgSimilarity float64         `yaml:"avg_similarity"`
	Members       []manifestEntry `yaml:"members"`
	Skipped       []manifestEntry `yaml:"skipped,omitempty"`
}

type manifestEntry struct {
	ID     int64  `yaml:"id"`
	Name   string `yaml:"name"`
	File   string `yaml:"file,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

// ExportCluster writes a zip archive of the cluster's member files to w.
// Members whose file is missing are skipped rather than failing the export.
func (e *Engine) ExportCluster(ctx context.Context, label int, w io.Writer) (*ExportSummary, error) {
	_, members, err := e.clusterMembers(ctx, label)
	if err != nil {
		return nil, err
	}

	summary := &ExportSummary{Label: label, FileName: ArchiveName(label)}
	man := manifest{
		Cluster:    label,
		Archive:    summary.FileName,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
	}

	zw := zip.NewWriter(w)
	names := newEntryNamer()
	if e.manifest {
		names.reserve(ManifestName)
	}

	for _, m := range members {
		entry, reason, err := e.addMember(ctx, zw, names, m)
		if err != nil {
			_ = zw.Close()
			return nil, err
		}
		if reason != "" {
			log.Warn().Int64("id", m.ID).Str("name", m.Name).Str("reason", reason).Msg("Skipping export member")
			summary.Skipped = append(summary.Skipped, m.ID)
			man.Skipped = append(man.Skipped, manifestEntry{ID: m.ID, Name: m.Name, Reason: reason})
			continue
		}
		summary.Included = append(summary.Included, m.ID)
		man.Members = append(man.Members, manifestEntry{ID: m.ID, Name: m.Name, File: entry})
	}

	if e.manifest {
		score, err := coherenceOf(members)
		if err != nil {
			_ = zw.Close()
			return nil, err
		}
		man.Coherence = score.Band
		man.AvgSimilarity = score.AvgSimilarity

		data, err := yaml.Marshal(&man)
		if err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("encode manifest: %w", err)
		}
		f, err := zw.Create(ManifestName)
		if err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("write manifest: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("write manifest: %w", err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}

	e.metrics.RecordExport(ctx, len(summary.Skipped))
	log.Info().
		Int("cluster", label).
		Int("included", len(summary.Included)).
		Int("skipped", len(summary.Skipped)).
		Msg("Cluster exported")
	return summary, nil
}

// addMember copies one member file into the archive. A non-empty reason
// means the member was skipped.
func (e *Engine) addMember(ctx context.Context, zw *zip.Writer, names *entryNamer, m *models.Item) (string, string, error) {
	if !m.HasBlob() || e.blobs == nil {
		return "", "no stored file", nil
	}
	r, err := e.blobs.Open(ctx, m.BlobKey)
	if err != nil {
		if isMissingBlob(err) {
			return "", "file missing", nil
		}
		return "", "", storageErr("open file", err)
	}
	defer r.Close()

	entry := names.next(m.Name)
	f, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entry,
		Method:   zip.Deflate,
		Modified: time.UnixMilli(m.CreatedAtEpoch),
	})
	if err != nil {
		return "", "", fmt.Errorf("write %s: %w", entry, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", ctxErr
		}
		return "", "", storageErr("read file", err)
	}
	return entry, "", nil
}

// entryNamer hands out unique archive entry names: "a.jpg", "a (1).jpg", ...
type entryNamer struct {
	used map[string]bool
}

func newEntryNamer() *entryNamer {
	return &entryNamer{used: make(map[string]bool)}
}

func (n *entryNamer) reserve(name string) {
	n.used[strings.ToLower(name)] = true
}

func (n *entryNamer) next(name string) string {
	if name == "" {
		name = "item"
	}
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; n.used[strings.ToLower(candidate)]; i++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
	n.reserve(candidate)
	return candidate
}
