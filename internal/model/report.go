package model

import "time"

type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

type Vulnerability struct {
	Name         string    `json:"name"`
	CVE          string    `json:"cve"`
	Score        float64   `json:"score"`
	Severity     Severity  `json:"severity"`
	Asset        string    `json:"asset"`
	Host         string    `json:"host,omitempty"`
	Port         string    `json:"port,omitempty"`
	Description  string    `json:"description"`
	Remediation  string    `json:"remediation"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

type AssetRiskSummary struct {
	AssetID         string   `json:"assetId"`
	Name            string   `json:"name"`
	Critical        int      `json:"critical"`
	High            int      `json:"high"`
	Medium          int      `json:"medium"`
	Low             int      `json:"low"`
	Total           int      `json:"total"`
	RiskLevel       Severity `json:"riskLevel"`
	ComplianceScore int      `json:"complianceScore"`
}

type ReportSummary struct {
	AssetsScanned        int      `json:"assetsScanned"`
	TotalVulnerabilities int      `json:"totalVulnerabilities"`
	Critical             int      `json:"critical"`
	High                 int      `json:"high"`
	Medium               int      `json:"medium"`
	Low                  int      `json:"low"`
	RiskLevel            Severity `json:"riskLevel"`
	SecurityHealth       int      `json:"securityHealth"`
	ComplianceScore      int      `json:"complianceScore"`
}

type Report struct {
	ScanID          string             `json:"scanId"`
	GeneratedAt     time.Time          `json:"generatedAt"`
	Summary         ReportSummary      `json:"summary"`
	Assets          []AssetRiskSummary `json:"assets"`
	Vulnerabilities []Vulnerability    `json:"vulnerabilities"`
}
