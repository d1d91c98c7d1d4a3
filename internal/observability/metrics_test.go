package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountAndNilSafety(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.EventDispatched("flashcards", "info")
	nilMetrics.ObserveGrading("local", "correct", time.Millisecond)

	m := NewMetrics()
	m.EventDispatched("flashcards", "info")
	m.EventDispatched("flashcards", "info")
	m.GenerationTransition("worksheets", "failed")
	m.ChannelConnected(true)
	m.ChannelConnected(true)
	m.ChannelConnected(false)

	if got := testutil.ToFloat64(m.eventsDispatched.WithLabelValues("flashcards", "info")); got != 2 {
		t.Fatalf("events dispatched: want=2 got=%v", got)
	}
	if got := testutil.ToFloat64(m.connectedChans); got != 1 {
		t.Fatalf("connected gauge: want=1 got=%v", got)
	}
	if n, err := testutil.GatherAndCount(m.Registry, "studysync_generation_transitions_total"); err != nil || n != 1 {
		t.Fatalf("gather: n=%d err=%v", n, err)
	}
}
