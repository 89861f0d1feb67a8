package storage

import (
	"database/sql"

	"github.com/L1nMay/vulnorch/internal/model"
)

// RecordScan upserts the summary row of a terminal scan. rep may be nil.
func (h *History) RecordScan(rec *model.ScanRecord, rep *model.Report) error {
	var sum model.ReportSummary
	sum.ComplianceScore = 100
	if rep != nil {
		sum = rep.Summary
	}

	var finished sql.NullTime
	if rec.EndTime != nil {
		finished = sql.NullTime{Time: rec.EndTime.UTC(), Valid: true}
	}

	_, err := h.db.Exec(`
		INSERT INTO scan_history (
			id,
			owner_id,
			status,
			message,
			assets,
			vulnerabilities,
			critical,
			high,
			medium,
			low,
			risk_level,
			compliance_score,
			report_error,
			started_at,
			finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			vulnerabilities = excluded.vulnerabilities,
			critical = excluded.critical,
			high = excluded.high,
			medium = excluded.medium,
			low = excluded.low,
			risk_level = excluded.risk_level,
			compliance_score = excluded.compliance_score,
			report_error = excluded.report_error,
			finished_at = excluded.finished_at
	`,
		rec.ID,
		rec.OwnerID,
		string(rec.Status),
		rec.Message,
		len(rec.Assets),
		sum.TotalVulnerabilities,
		sum.Critical,
		sum.High,
		sum.Medium,
		sum.Low,
		string(sum.RiskLevel),
		sum.ComplianceScore,
		rec.ReportError,
		rec.StartTime.UTC(),
		finished,
	)

	return err
}
