package reach

import "testing"

func TestTrackerStartsUnknown(t *testing.T) {
	tr := NewTracker()
	if tr.State() != StateUnknown {
		t.Fatalf("expected StateUnknown, got %s", tr.State())
	}
}

func TestTrackerObserveDialbackPromotesToPublic(t *testing.T) {
	tr := NewTracker()
	tr.ObserveDialback(true)
	state := tr.ObserveDialback(true)
	if state != StatePublic {
		t.Fatalf("expected StatePublic after probeThreshold successes, got %s", state)
	}
}

func TestTrackerSingleSuccessDoesNotPromote(t *testing.T) {
	tr := NewTracker()
	state := tr.ObserveDialback(true)
	if state != StateUnknown {
		t.Fatalf("expected to remain StateUnknown after a single success, got %s", state)
	}
}

func TestTrackerObserveReservationSetsPrivateOrIsolated(t *testing.T) {
	tr := NewTracker()
	if state := tr.ObserveReservation(true); state != StatePrivate {
		t.Fatalf("expected StatePrivate on a successful reservation, got %s", state)
	}

	tr2 := NewTracker()
	if state := tr2.ObserveReservation(false); state != StateIsolated {
		t.Fatalf("expected StateIsolated on a failed reservation, got %s", state)
	}
}

func TestTrackerObserveReservationDoesNotDowngradePublic(t *testing.T) {
	tr := NewTracker()
	tr.ObserveDialback(true)
	tr.ObserveDialback(true)
	if tr.State() != StatePublic {
		t.Fatalf("setup: expected StatePublic, got %s", tr.State())
	}
	if state := tr.ObserveReservation(false); state != StatePublic {
		t.Fatalf("expected a failed reservation not to downgrade an already-Public node, got %s", state)
	}
}

func TestTrackerObserveReservationLostDegradesPrivateToIsolated(t *testing.T) {
	tr := NewTracker()
	tr.ObserveReservation(true)
	if state := tr.ObserveReservationLost(); state != StateIsolated {
		t.Fatalf("expected losing a reservation to degrade Private to Isolated, got %s", state)
	}
}

func TestTrackerObserveReservationLostNoOpWhenNotPrivate(t *testing.T) {
	tr := NewTracker()
	if state := tr.ObserveReservationLost(); state != StateUnknown {
		t.Fatalf("expected no change from Unknown, got %s", state)
	}
}

func TestTrackerConfidenceLevels(t *testing.T) {
	tr := NewTracker()
	if tr.Confidence() != ConfidenceLow {
		t.Fatalf("expected ConfidenceLow with no probes, got %v", tr.Confidence())
	}
	tr.ObserveDialback(true)
	tr.ObserveDialback(true)
	if tr.Confidence() != ConfidenceMedium {
		t.Fatalf("expected ConfidenceMedium at probeThreshold successes, got %v", tr.Confidence())
	}
	tr.ObserveDialback(true)
	tr.ObserveDialback(true)
	if tr.Confidence() != ConfidenceHigh {
		t.Fatalf("expected ConfidenceHigh at 2x probeThreshold successes, got %v", tr.Confidence())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateUnknown:  "unknown",
		StatePublic:   "public",
		StatePrivate:  "private",
		StateIsolated: "isolated",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
