package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeUsers struct {
	total, credentialed int64
	err                 error
}

func (f fakeUsers) CountUsers(context.Context) (int64, int64, error) {
	return f.total, f.credentialed, f.err
}

type fakeTasks int

func (f fakeTasks) Pending() int { return int(f) }

func TestCollectorReportsProviders(t *testing.T) {
	c := NewCollector(fakeUsers{total: 5, credentialed: 2}, fakeTasks(3), time.Now().Add(-time.Minute))

	expected := `
# HELP phonemail_background_tasks Number of detached background tasks in flight
# TYPE phonemail_background_tasks gauge
phonemail_background_tasks 3
# HELP phonemail_users Number of users by credential state
# TYPE phonemail_users gauge
phonemail_users{credential="none"} 3
phonemail_users{credential="verified"} 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"phonemail_users", "phonemail_background_tasks")
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestCollectorNilProviders(t *testing.T) {
	c := NewCollector(nil, nil, time.Now())
	if n := testutil.CollectAndCount(c); n != 1 {
		t.Errorf("collected %d metrics, want 1 (uptime only)", n)
	}
}

func TestCollectorSkipsFailedUserCount(t *testing.T) {
	c := NewCollector(fakeUsers{err: errors.New("db down")}, nil, time.Now())
	if n := testutil.CollectAndCount(c, "phonemail_users"); n != 0 {
		t.Errorf("collected %d user metrics, want 0", n)
	}
}

func TestCountersRecord(t *testing.T) {
	c := NewCounters()
	reg := prometheus.NewRegistry()
	if err := c.Register(reg); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	c.Webhook("voice")
	c.Webhook("voice")
	c.Notification("sms", nil)
	c.Notification("voicemail", errors.New("smtp"))
	c.OutboundSMS(nil)
	c.Transcription(errors.New("timeout"))
	c.TaskFailure("voicemail")

	if got := testutil.ToFloat64(c.webhooks.WithLabelValues("voice")); got != 2 {
		t.Errorf("webhooks{voice} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.notifications.WithLabelValues("voicemail", "error")); got != 1 {
		t.Errorf("notifications{voicemail,error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.outboundSMS.WithLabelValues("ok")); got != 1 {
		t.Errorf("outbound_sms{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.transcriptions.WithLabelValues("error")); got != 1 {
		t.Errorf("transcriptions{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.taskFailures.WithLabelValues("voicemail")); got != 1 {
		t.Errorf("task_failures{voicemail} = %v, want 1", got)
	}

	if err := c.Register(reg); err == nil {
		t.Error("expected error registering counters twice")
	}
}

func TestNilCountersAreNoops(t *testing.T) {
	var c *Counters
	c.Webhook("sms")
	c.Notification("sms", nil)
	c.OutboundSMS(nil)
	c.Transcription(nil)
	c.TaskFailure("x")
}
