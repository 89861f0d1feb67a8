// Package risk turns engine scores into severity buckets and aggregates them
// into per-asset and whole-scan risk and compliance numbers.
package risk

import (
	"math"
	"time"

	"github.com/L1nMay/vulnorch/internal/model"
)

// Bucket maps a CVSS-like score to a severity. Boundaries are closed below.
func Bucket(score float64) model.Severity {
	switch {
	case score >= 9.0:
		return model.SeverityCritical
	case score >= 7.0:
		return model.SeverityHigh
	case score >= 4.0:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

type Counts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

func (c *Counts) Add(s model.Severity) {
	switch s {
	case model.SeverityCritical:
		c.Critical++
	case model.SeverityHigh:
		c.High++
	case model.SeverityMedium:
		c.Medium++
	default:
		c.Low++
	}
}

func (c Counts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

// Compliance is 100 minus the weighted severity share, floored at 0.
// No vulnerabilities means fully compliant.
func Compliance(c Counts) int {
	total := c.Total()
	if total == 0 {
		return 100
	}
	weighted := float64(4*c.Critical + 3*c.High + 2*c.Medium + c.Low)
	maxWeight := float64(4 * total)
	v := math.Round(100 - 100*weighted/maxWeight)
	if v < 0 {
		return 0
	}
	return int(v)
}

// Level is the highest severity with a non-zero count, Low when empty.
func Level(c Counts) model.Severity {
	switch {
	case c.Critical > 0:
		return model.SeverityCritical
	case c.High > 0:
		return model.SeverityHigh
	case c.Medium > 0:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// MeanCompliance averages per-asset percentages; no assets counts as 100.
func MeanCompliance(scores []int) int {
	if len(scores) == 0 {
		return 100
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return int(math.Round(float64(sum) / float64(len(scores))))
}

// BuildReport groups vulnerabilities by asset id (Vulnerability.Asset) in the
// order the assets were requested.
func BuildReport(scanID string, assets []model.Asset, vulns []model.Vulnerability, now time.Time) *model.Report {
	perAsset := make(map[string]*Counts, len(assets))
	for _, a := range assets {
		perAsset[a.ID] = &Counts{}
	}

	var all Counts
	out := make([]model.Vulnerability, 0, len(vulns))
	for _, v := range vulns {
		v.Severity = Bucket(v.Score)
		all.Add(v.Severity)
		if c, ok := perAsset[v.Asset]; ok {
			c.Add(v.Severity)
		}
		out = append(out, v)
	}

	summaries := make([]model.AssetRiskSummary, 0, len(assets))
	scores := make([]int, 0, len(assets))
	for _, a := range assets {
		c := *perAsset[a.ID]
		score := Compliance(c)
		scores = append(scores, score)
		summaries = append(summaries, model.AssetRiskSummary{
			AssetID:         a.ID,
			Name:            a.Name,
			Critical:        c.Critical,
			High:            c.High,
			Medium:          c.Medium,
			Low:             c.Low,
			Total:           c.Total(),
			RiskLevel:       Level(c),
			ComplianceScore: score,
		})
	}

	return &model.Report{
		ScanID:      scanID,
		GeneratedAt: now,
		Summary: model.ReportSummary{
			AssetsScanned:        len(assets),
			TotalVulnerabilities: all.Total(),
			Critical:             all.Critical,
			High:                 all.High,
			Medium:               all.Medium,
			Low:                  all.Low,
			RiskLevel:            Level(all),
			SecurityHealth:       Compliance(all),
			ComplianceScore:      MeanCompliance(scores),
		},
		Assets:          summaries,
		Vulnerabilities: out,
	}
}

// EmptyReport is what a completed scan carries when its findings could not be parsed.
func EmptyReport(scanID string, assets []model.Asset, now time.Time) *model.Report {
	return BuildReport(scanID, assets, nil, now)
}
