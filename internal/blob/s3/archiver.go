package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/alanyoungcy/modelarena/internal/domain"
)

// ReportArchive implements domain.ReportArchive by writing one JSON document
// per round under prefix. Re-archiving a round overwrites its document with
// the latest report.
type ReportArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	prefix string
}

// NewReportArchive creates a ReportArchive. An empty prefix defaults to
// "settlements".
func NewReportArchive(w domain.BlobWriter, r domain.BlobReader, prefix string) *ReportArchive {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "settlements"
	}
	return &ReportArchive{writer: w, reader: r, prefix: prefix}
}

// ReportPath returns the object key of a round's report.
func (a *ReportArchive) ReportPath(roundID string) string {
	return path.Join(a.prefix, "rounds", roundID+".json")
}

// Archive uploads the report.
func (a *ReportArchive) Archive(ctx context.Context, report domain.SettlementReport) error {
	if report.RoundID == "" {
		return fmt.Errorf("s3blob: archive: missing round id: %w", domain.ErrValidation)
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: encode report %s: %w", report.RoundID, err)
	}
	if err := a.writer.Put(ctx, a.ReportPath(report.RoundID), bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive %s: %w", report.RoundID, err)
	}
	return nil
}

// Load reads back a round's report; domain.ErrNotFound when none exists.
func (a *ReportArchive) Load(ctx context.Context, roundID string) (domain.SettlementReport, error) {
	body, err := a.reader.Get(ctx, a.ReportPath(roundID))
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: load %s: %w", roundID, err)
	}
	defer body.Close()

	var report domain.SettlementReport
	if err := json.NewDecoder(body).Decode(&report); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: decode report %s: %w", roundID, err)
	}
	return report, nil
}

var _ domain.ReportArchive = (*ReportArchive)(nil)
