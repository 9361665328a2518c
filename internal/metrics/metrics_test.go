package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordNotification("sms", "sent")
	m.RecordNotification("sms", "sent")
	m.RecordTransition("advance", "ok")
	m.RecordWebhook("status")
	m.SetStoreSize(4096)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("sms", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("advance", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("status")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(m.StoreSizeBytes))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordNotification("email", "error")
		m.RecordSweep("done")
		m.ObserveProvider("twilio", 0.1)
		m.SetStoreSize(1)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordInboxSend("email", "sent")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hub_inbox_sends_total")
}
