package models

import (
	"time"
)

// Status of a device backup attempt or a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is the result of one device backup attempt. Content is set on
// success only, ErrorDetail and ErrorKind on failure only.
type Record struct {
	DeviceName   string        `json:"device_name"`
	CreationTime time.Time     `json:"creation_time"`
	ElapsedTime  time.Duration `json:"elapsed_time"`
	Status       Status        `json:"status"`
	Content      []byte        `json:"-"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail  string        `json:"error_detail,omitempty"`
}

// Succeeded reports whether the record carries content.
func (r *Record) Succeeded() bool {
	return r.Status == StatusSuccess
}

// NewFailedRecord builds a failure record from err.
func NewFailedRecord(name string, started time.Time, err error) *Record {
	return &Record{
		DeviceName:   name,
		CreationTime: started,
		ElapsedTime:  time.Since(started),
		Status:       StatusFailed,
		ErrorKind:    Classify(err),
		ErrorDetail:  err.Error(),
	}
}

// BackupRef identifies one persisted backup.
type BackupRef struct {
	Sink         string    `json:"sink,omitempty"`
	Device       string    `json:"device"`
	ID           string    `json:"filename"`
	CreationTime time.Time `json:"creation_time"`
	Size         int64     `json:"size"`
}
