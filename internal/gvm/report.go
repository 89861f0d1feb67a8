package gvm

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Finding is one scored result from an engine report.
type Finding struct {
	Name         string
	CVE          string
	Score        float64
	Host         string
	Port         string
	Description  string
	Remediation  string
	DiscoveredAt time.Time
}

type xmlResult struct {
	ID           string `xml:"id,attr"`
	Name         string `xml:"name"`
	Host         string `xml:"host"`
	Port         string `xml:"port"`
	Severity     string `xml:"severity"`
	Description  string `xml:"description"`
	CreationTime string `xml:"creation_time"`
	NVT          struct {
		OID      string `xml:"oid,attr"`
		Name     string `xml:"name"`
		CVSSBase string `xml:"cvss_base"`
		CVE      string `xml:"cve"`
		Solution string `xml:"solution"`
		Refs     []struct {
			Type string `xml:"type,attr"`
			ID   string `xml:"id,attr"`
		} `xml:"refs>ref"`
	} `xml:"nvt"`
}

type getReportsResponse struct {
	XMLName    xml.Name `xml:"get_reports_response"`
	Status     string   `xml:"status,attr"`
	StatusText string   `xml:"status_text,attr"`
	Report     struct {
		ID      string      `xml:"id,attr"`
		Results []xmlResult `xml:"report>results>result"`
	} `xml:"report"`
}

// Report fetches and parses the results of one report.
func (c *Client) Report(ctx context.Context, reportID string) ([]Finding, error) {
	payload, err := encode(getReportsRequest{
		ReportID:         reportID,
		Details:          "1",
		IgnorePagination: "1",
		Filter:           "apply_overrides=0 min_qod=70 rows=-1",
	})
	if err != nil {
		return nil, err
	}
	raw, err := c.Invoke(ctx, payload)
	if err != nil {
		return nil, err
	}
	return ParseReport(raw, time.Now().UTC())
}

// ParseReport converts a get_reports response into findings. Results scored
// zero or below are log entries, not vulnerabilities, and are skipped. now is
// used when a result carries no creation time.
func ParseReport(raw string, now time.Time) ([]Finding, error) {
	var resp getReportsResponse
	if err := xml.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parse get_reports response: %w", err)
	}
	if resp.Status != "" && !(Handle{Status: resp.Status}).OK() {
		return nil, &RejectedError{Command: "get_reports", Status: resp.Status, StatusText: resp.StatusText}
	}

	out := make([]Finding, 0, len(resp.Report.Results))
	for _, r := range resp.Report.Results {
		score, ok := parseScore(r.Severity)
		if !ok {
			score, ok = parseScore(r.NVT.CVSSBase)
		}
		if !ok || score <= 0 {
			continue
		}

		f := Finding{
			Name:         firstNonEmpty(r.Name, r.NVT.Name, r.NVT.OID),
			CVE:          cveOf(r),
			Score:        score,
			Host:         strings.TrimSpace(r.Host),
			Port:         strings.TrimSpace(r.Port),
			Description:  firstNonEmpty(r.Description, r.NVT.Name),
			Remediation:  firstNonEmpty(r.NVT.Solution, "No remediation provided"),
			DiscoveredAt: now,
		}
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(r.CreationTime)); err == nil {
			f.DiscoveredAt = ts.UTC()
		}
		out = append(out, f)
	}
	return out, nil
}

func parseScore(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func cveOf(r xmlResult) string {
	for _, ref := range r.NVT.Refs {
		if strings.EqualFold(ref.Type, "cve") && ref.ID != "" {
			return ref.ID
		}
	}
	cve := strings.TrimSpace(r.NVT.CVE)
	if cve != "" && cve != "NOCVE" {
		if i := strings.Index(cve, ","); i > 0 {
			cve = strings.TrimSpace(cve[:i])
		}
		return cve
	}
	return "N/A"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
