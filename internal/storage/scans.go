package storage

import (
	"database/sql"
	"time"
)

type HistoryEntry struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"ownerId"`
	Status          string     `json:"status"`
	Message         string     `json:"message"`
	Assets          int        `json:"assets"`
	Vulnerabilities int        `json:"vulnerabilities"`
	Critical        int        `json:"critical"`
	High            int        `json:"high"`
	Medium          int        `json:"medium"`
	Low             int        `json:"low"`
	RiskLevel       string     `json:"riskLevel"`
	ComplianceScore int        `json:"complianceScore"`
	ReportError     string     `json:"reportError,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
}

// ListScanRuns returns the owner's recorded scans, newest first.
// An empty owner lists every owner.
func (h *History) ListScanRuns(ownerID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := h.db.Query(`
        SELECT
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
        FROM scan_history
        WHERE ($1 = '' OR owner_id = $1)
        ORDER BY started_at DESC
        LIMIT $2
    `, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]HistoryEntry, 0)
	for rows.Next() {
		var (
			r        HistoryEntry
			finished sql.NullTime
		)
		if err := rows.Scan(
			&r.ID,
			&r.OwnerID,
			&r.Status,
			&r.Message,
			&r.Assets,
			&r.Vulnerabilities,
			&r.Critical,
			&r.High,
			&r.Medium,
			&r.Low,
			&r.RiskLevel,
			&r.ComplianceScore,
			&r.ReportError,
			&r.StartedAt,
			&finished,
		); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
