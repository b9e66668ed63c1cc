package models

import (
	"sort"
	"time"
)

// DeviceOutcome is one entry of a RunReport.
type DeviceOutcome struct {
	Device      string        `json:"device"`
	Host        string        `json:"host,omitempty"`
	DeviceType  string        `json:"device_type,omitempty"`
	Status      Status        `json:"status"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed"`
	Bytes       int64         `json:"bytes,omitempty"`
	Backups     []BackupRef   `json:"backups,omitempty"`
}

// RunReport aggregates one orchestration pass.
type RunReport struct {
	ID          string          `json:"id"`
	Trigger     string          `json:"trigger"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Status      Status          `json:"status"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	ErrorDetail string          `json:"error_detail,omitempty"`
	Attempted   int             `json:"attempted"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	Outcomes    []DeviceOutcome `json:"outcomes"`
}

// Finalize sorts outcomes by device name and recomputes the counters.
func (r *RunReport) Finalize(finished time.Time) {
	sort.SliceStable(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].Device < r.Outcomes[j].Device
	})
	r.Attempted, r.Succeeded, r.Failed = len(r.Outcomes), 0, 0
	for _, o := range r.Outcomes {
		if o.Status == StatusSuccess {
			r.Succeeded++
		} else {
			r.Failed++
		}
	}
	r.FinishedAt = finished
	if r.Status == "" {
		r.Status = StatusSuccess
	}
}

// Summary is the short form published on the broker.
type Summary struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	Status     Status    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
}

// Summary returns the aggregate part of the report.
func (r *RunReport) Summary() Summary {
	return Summary{
		ID:         r.ID,
		Trigger:    r.Trigger,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Attempted:  r.Attempted,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
	}
}
