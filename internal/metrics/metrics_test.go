package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Code, rec.Body.String()
}

func TestRecorders(t *testing.T) {
	m := New()
	m.Transition("READY")
	m.Transition("READY")
	m.Run(true, 2)
	m.Run(false, 1)
	m.Selection("begin", true)
	m.Selection("end", false)
	m.UserRun(true)
	m.SetInQueue(1)

	code, body := scrape(t, m)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `seatsched_task_transitions_total{to="READY"} 2`)
	assert.Contains(t, body, `seatsched_task_runs_total{outcome="failure"} 1`)
	assert.Contains(t, body, `seatsched_slot_selections_total{phase="end",result="no_match"} 1`)
	assert.Contains(t, body, `seatsched_user_runs_total{outcome="success"} 1`)
	assert.Contains(t, body, "seatsched_tasks_in_queue 1")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("READY")
		m.Run(true, 1)
		m.Selection("begin", false)
		m.UserRun(false)
		m.SetInQueue(2)
	})
	code, _ := scrape(t, m)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
