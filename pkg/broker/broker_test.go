package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizflycloud/edna/pkg/models"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    *Message
		wantErr error
	}{
		{"manual", `{"event_type":"backup_manual","device_name":"r1"}`, &Message{EventType: BackupManual, DeviceName: "r1"}, nil},
		{"scheduler", `{"event_type":"scheduler_stop"}`, &Message{EventType: SchedulerStop}, nil},
		{"empty type", `{"device_name":"r1"}`, nil, ErrUnknownEventType},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseMessage([]byte(tc.payload))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseMessage([]byte("{"))
	assert.Error(t, err)
}

func TestNewRunNotification(t *testing.T) {
	r := &models.RunReport{ID: "run-1", Trigger: "scheduler", StartedAt: time.Now()}
	r.Outcomes = []models.DeviceOutcome{{Device: "a", Status: models.StatusSuccess}, {Device: "b", Status: models.StatusFailed}}
	r.Finalize(time.Now())

	buf, err := NewRunNotification(r)
	require.NoError(t, err)

	var n RunNotification
	require.NoError(t, json.Unmarshal(buf, &n))
	assert.Equal(t, RunFinished, n.EventType)
	assert.Equal(t, "run-1", n.Run.ID)
	assert.Equal(t, 2, n.Run.Attempted)
	assert.Equal(t, 1, n.Run.Failed)
	assert.NotContains(t, string(buf), "outcomes")
}
