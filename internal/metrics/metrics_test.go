package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	assert.Error(t, Register(reg), "second registration collides")
}

func TestCountersExposeLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	before := testutil.ToFloat64(LoginTotal.WithLabelValues(OutcomeRateLimited))
	LoginTotal.WithLabelValues(OutcomeRateLimited).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LoginTotal.WithLabelValues(OutcomeRateLimited)))

	SinkErrors.WithLabelValues("amqp").Add(0)
	n, err := testutil.GatherAndCount(reg, "sessionguard_security_event_sink_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	problems, err := testutil.GatherAndLint(reg)
	require.NoError(t, err)
	for _, p := range problems {
		assert.False(t, strings.Contains(p.Text, "counter metrics should have"), p.Text)
	}
}
