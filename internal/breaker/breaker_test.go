package breaker

import "testing"

func TestObserveTripsAtThreshold(t *testing.T) {
	b := New()
	var tripped bool
	for i := 0; i < 10; i++ {
		tripped = b.Observe(`{"q_next":"q_1","s_prime":"x","d_next":"./a.txt"}`)
	}
	if !tripped {
		t.Fatal("expected breaker to trip on the 10th identical output")
	}
}

func TestObserveDoesNotTripBelowThreshold(t *testing.T) {
	b := New()
	for i := 0; i < 9; i++ {
		if b.Observe("same") {
			t.Fatalf("unexpected trip at iteration %d", i)
		}
	}
}

func TestObserveResetsAfterTrip(t *testing.T) {
	b := New()
	for i := 0; i < 10; i++ {
		b.Observe("same")
	}
	if b.Observe("same") {
		t.Fatal("expected ring reset after trip, not immediate re-trip")
	}
}

func TestObserveIgnoresRingOverflowOfDistinctOutputs(t *testing.T) {
	b := New()
	for i := 0; i < 100; i++ {
		if b.Observe(distinct(i)) {
			t.Fatalf("unexpected trip on distinct outputs at iteration %d", i)
		}
	}
}

func distinct(i int) string {
	return string(rune('a' + i%26))
}

func TestFatalTransition(t *testing.T) {
	q, s, d := FatalTransition("./MAIN_TAPE.md")
	if q != "FATAL_DEBUG" || s != "👆" || d != "./MAIN_TAPE.md" {
		t.Errorf("got (%q, %q, %q)", q, s, d)
	}
}
