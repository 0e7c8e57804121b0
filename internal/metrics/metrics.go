package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// UserCounter returns the number of known users and how many of them hold
// a verified telephony credential.
type UserCounter interface {
	CountUsers(ctx context.Context) (total, credentialed int64, err error)
}

// PendingTasks exposes the number of detached tasks still running.
type PendingTasks interface {
	Pending() int
}

// Collector is a prometheus.Collector that gathers phonemail state at
// scrape time.
type Collector struct {
	users     UserCounter
	tasks     PendingTasks
	startTime time.Time

	// Metric descriptors.
	usersDesc        *prometheus.Desc
	pendingTasksDesc *prometheus.Desc
	uptimeDesc       *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(users UserCounter, tasks PendingTasks, startTime time.Time) *Collector {
	return &Collector{
		users:     users,
		tasks:     tasks,
		startTime: startTime,

		usersDesc: prometheus.NewDesc(
			"phonemail_users",
			"Number of users by credential state",
			[]string{"credential"}, nil,
		),
		pendingTasksDesc: prometheus.NewDesc(
			"phonemail_background_tasks",
			"Number of detached background tasks in flight",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"phonemail_uptime_seconds",
			"Seconds since the phonemail process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.usersDesc
	ch <- c.pendingTasksDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.users != nil {
		total, credentialed, err := c.users.CountUsers(ctx)
		if err != nil {
			slog.Error("metrics: failed to count users", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.usersDesc, prometheus.GaugeValue,
				float64(credentialed), "verified",
			)
			ch <- prometheus.MustNewConstMetric(
				c.usersDesc, prometheus.GaugeValue,
				float64(total-credentialed), "none",
			)
		}
	}

	if c.tasks != nil {
		ch <- prometheus.MustNewConstMetric(
			c.pendingTasksDesc, prometheus.GaugeValue,
			float64(c.tasks.Pending()),
		)
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

// Counters are the event counters updated as webhooks are processed. A nil
// *Counters is valid and records nothing.
type Counters struct {
	webhooks       *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	outboundSMS    *prometheus.CounterVec
	transcriptions *prometheus.CounterVec
	taskFailures   *prometheus.CounterVec
}

// NewCounters creates the event counters.
func NewCounters() *Counters {
	return &Counters{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonemail_webhooks_total",
			Help: "Carrier webhooks received by endpoint",
		}, []string{"endpoint"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonemail_notifications_total",
			Help: "Notification emails by kind and result",
		}, []string{"kind", "result"}),
		outboundSMS: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonemail_outbound_sms_total",
			Help: "Email replies relayed as SMS by result",
		}, []string{"result"}),
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonemail_transcriptions_total",
			Help: "Independent voicemail transcriptions by result",
		}, []string{"result"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phonemail_task_failures_total",
			Help: "Detached background tasks that returned an error or panicked",
		}, []string{"task"}),
	}
}

// Register adds the counters to reg.
func (c *Counters) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.webhooks, c.notifications, c.outboundSMS, c.transcriptions, c.taskFailures} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Webhook counts a webhook for endpoint.
func (c *Counters) Webhook(endpoint string) {
	if c == nil {
		return
	}
	c.webhooks.WithLabelValues(endpoint).Inc()
}

// Notification counts a notification email of kind ("sms" or "voicemail").
func (c *Counters) Notification(kind string, err error) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(kind, result(err)).Inc()
}

// OutboundSMS counts a relayed reply.
func (c *Counters) OutboundSMS(err error) {
	if c == nil {
		return
	}
	c.outboundSMS.WithLabelValues(result(err)).Inc()
}

// Transcription counts an independent transcription attempt.
func (c *Counters) Transcription(err error) {
	if c == nil {
		return
	}
	c.transcriptions.WithLabelValues(result(err)).Inc()
}

// TaskFailure counts a failed background task.
func (c *Counters) TaskFailure(task string) {
	if c == nil {
		return
	}
	c.taskFailures.WithLabelValues(task).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
