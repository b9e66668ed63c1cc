package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bizflycloud/edna/pkg/models"
)

// Event types.
const (
	BackupManual   = "backup_manual"
	SchedulerStart = "scheduler_start"
	SchedulerStop  = "scheduler_stop"
	RunFinished    = "run_finished"
)

// ErrUnknownEventType is raised when receiving unhandled event from broker.
var ErrUnknownEventType = errors.New("unknown event type")

// Message is the format of received commands.
type Message struct {
	EventType string `json:"event_type"`
	CreatedAt string `json:"created_at,omitempty"`

	// DeviceName limits a backup_manual run to one device.
	DeviceName string `json:"device_name,omitempty"`
}

// ParseMessage decodes an event payload.
func ParseMessage(payload []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("%w: empty event_type", ErrUnknownEventType)
	}
	return &msg, nil
}

// RunNotification is published when a run finishes.
type RunNotification struct {
	EventType string         `json:"event_type"`
	CreatedAt string         `json:"created_at"`
	Run       models.Summary `json:"run"`
}

// NewRunNotification encodes the summary of r.
func NewRunNotification(r *models.RunReport) ([]byte, error) {
	return json.Marshal(RunNotification{
		EventType: RunFinished,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Run:       r.Summary(),
	})
}
