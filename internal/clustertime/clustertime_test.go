package clustertime

import "testing"

func TestNext(t *testing.T) {
	ts := T{Seconds: 100, Ordinal: 5}
	next := ts.Next()
	if next.Seconds != 100 || next.Ordinal != 6 {
		t.Fatalf("Next() = %+v, want {100 6}", next)
	}
	if ts.Ordinal != 5 {
		t.Fatalf("Next() mutated receiver: %+v", ts)
	}
}

func TestOrdering(t *testing.T) {
	cases := []struct {
		a, b   T
		before bool
	}{
		{T{100, 1}, T{100, 2}, true},
		{T{100, 2}, T{100, 1}, false},
		{T{99, 9999}, T{100, 0}, true},
		{T{100, 0}, T{100, 0}, false},
	}
	for _, c := range cases {
		if got := c.a.Before(c.b); got != c.before {
			t.Errorf("%+v.Before(%+v) = %v, want %v", c.a, c.b, got, c.before)
		}
	}
}

func TestZero(t *testing.T) {
	if !(T{}).Zero() {
		t.Fatal("zero value should report Zero() == true")
	}
	if (T{Seconds: 1}).Zero() {
		t.Fatal("non-zero seconds should report Zero() == false")
	}
}

func TestWallClock(t *testing.T) {
	ts := T{Seconds: 1700000000}
	wc := ts.WallClock()
	if wc.Unix() != 1700000000 {
		t.Fatalf("WallClock().Unix() = %d, want 1700000000", wc.Unix())
	}
}

func TestPrimitiveRoundTrip(t *testing.T) {
	ts := T{Seconds: 42, Ordinal: 7}
	if got := FromPrimitive(ts.ToPrimitive()); got != ts {
		t.Fatalf("round trip = %+v, want %+v", got, ts)
	}
}
