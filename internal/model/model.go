package model

import (
	"time"
)

type ScanStatus string

const (
	StatusStarting        ScanStatus = "starting"
	StatusCreatingTargets ScanStatus = "creating_targets"
	StatusCreatingTask    ScanStatus = "creating_task"
	StatusRunning         ScanStatus = "running"
	StatusCompleted       ScanStatus = "completed"
	StatusFailed          ScanStatus = "failed"
	StatusCancelled       ScanStatus = "cancelled"
)

// Terminal reports whether no further status/progress writes may happen.
func (s ScanStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Asset is a scan target as stored in the organization's asset directory.
type Asset struct {
	ID    string `json:"id" yaml:"id"`
	OrgID string `json:"orgId,omitempty" yaml:"org_id"`
	Name  string `json:"name" yaml:"name"`
	Type  string `json:"type,omitempty" yaml:"type"`
	IP    string `json:"ip,omitempty" yaml:"ip"`
	URL   string `json:"url,omitempty" yaml:"url"`
}

// Scannable is true when the engine has something to probe.
func (a Asset) Scannable() bool {
	return a.IP != "" || a.URL != ""
}

type ScanRecord struct {
	ID      string     `json:"id"`
	OwnerID string     `json:"ownerId"`
	Status  ScanStatus `json:"status"`

	Progress int    `json:"progress"`
	Message  string `json:"message"`

	Assets []Asset `json:"assets"`

	// engine handles, index-aligned with Assets
	TargetIDs []string `json:"targetIds,omitempty"`
	TaskIDs   []string `json:"taskIds,omitempty"`
	ReportIDs []string `json:"reportIds,omitempty"`

	StartTime  time.Time  `json:"startTime"`
	LastUpdate time.Time  `json:"lastUpdate"`
	EndTime    *time.Time `json:"endTime,omitempty"`

	ReportError string  `json:"reportError,omitempty"`
	Results     *Report `json:"results,omitempty"`
}

// SetProgress never moves progress backwards.
func (r *ScanRecord) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > r.Progress {
		r.Progress = p
	}
}

// StatusView is the record without the final report, as served by the status endpoint.
func (r *ScanRecord) StatusView() ScanRecord {
	v := *r
	v.Results = nil
	return v
}
