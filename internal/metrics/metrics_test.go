package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rzbill/keywatch/internal/expiry"
)

// sample returns the value of the first metric in family name whose labels
// include label (any label when label is empty).
func sample(t *testing.T, reg prometheus.Gatherer, name, label string) float64 {
	t.Helper()
	fams, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range fams {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" && !hasLabelValue(m, label) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("no sample %s{%s}", name, label)
	return 0
}

func hasLabelValue(m *dto.Metric, v string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetValue() == v {
			return true
		}
	}
	return false
}

func TestRecorderAndHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.WatchRegistered(true)
	m.WatchRegistered(false)
	m.Removal(expiry.SourceLive)
	m.Removal(expiry.SourceLive)
	m.Removal(expiry.SourceCompensator)
	m.CleanupError(expiry.SourceLive)
	m.LiveEvent()
	m.LiveMalformed()
	m.LiveFiltered()
	m.PassCompleted(expiry.PassResult{Candidates: 4, Removed: 2, StillPresent: 1, Failed: 1, Duration: 1500 * time.Millisecond})
	m.NotificationDropped("__keyevent@0__:expired")
	m.ObserveRead(time.Millisecond, 10)
	m.ObserveCommit(time.Millisecond, 3, 64)

	checks := []struct {
		name, label string
		want        float64
	}{
		{"keywatch_watch_total", "", 2},
		{"keywatch_index_inserts_total", "", 1},
		{"keywatch_removals_total", "live", 2},
		{"keywatch_removals_total", "compensator", 1},
		{"keywatch_cleanup_errors_total", "live", 1},
		{"keywatch_live_events_total", "", 1},
		{"keywatch_live_malformed_total", "", 1},
		{"keywatch_live_filtered_total", "", 1},
		{"keywatch_compensation_passes_total", "", 1},
		{"keywatch_compensation_candidates_total", "", 4},
		{"keywatch_compensation_removed_total", "", 2},
		{"keywatch_compensation_still_present_total", "", 1},
		{"keywatch_compensation_failed_total", "", 1},
		{"keywatch_compensation_last_pass_seconds", "", 1.5},
		{"keywatch_store_notifications_dropped_total", "__keyevent@0__:expired", 1},
		{"keywatch_storage_reads_total", "", 1},
		{"keywatch_storage_read_bytes_total", "", 10},
		{"keywatch_storage_write_bytes_total", "", 64},
		{"keywatch_storage_batch_ops_total", "", 3},
		{"keywatch_storage_commit_duration_seconds", "", 1},
	}
	for _, c := range checks {
		if got := sample(t, reg, c.name, c.label); got != c.want {
			t.Errorf("%s{%s} = %v, want %v", c.name, c.label, got, c.want)
		}
	}
}

func TestEventClientsReadsAtGather(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 0
	EventClients(reg, func() int { return n })
	n = 3
	if got := sample(t, reg, "keywatch_event_clients", ""); got != 3 {
		t.Fatalf("event clients = %v", got)
	}
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	New(reg)
}

func TestUntouchedVecHasNoSamples(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	fams, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range fams {
		if mf.GetName() == "keywatch_removals_total" {
			t.Fatalf("removals family exported before any removal")
		}
	}
}
