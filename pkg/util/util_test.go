package util

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs()

	got := []string{g.Next("order"), g.Next("order"), g.Next("trade"), g.Next("order")}
	want := []string{"order-1", "order-2", "trade-1", "order-3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("id[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// zero value is usable
	var z SequentialIDs
	if id := z.Next("x"); id != "x-1" {
		t.Errorf("zero value Next = %q, want x-1", id)
	}
}

func TestUUIDs(t *testing.T) {
	var g UUIDs
	a, b := g.Next("match"), g.Next("match")
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	if !strings.HasPrefix(a, "match-") || len(a) != len("match-")+36 {
		t.Errorf("unexpected uuid id format: %q", a)
	}
}

func TestStepClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewStepClock(start, time.Millisecond)

	t0 := c.Now()
	t1 := c.Now()
	if !t0.Equal(start) {
		t.Errorf("first Now = %v, want %v", t0, start)
	}
	if t1.Sub(t0) != time.Millisecond {
		t.Errorf("step = %v, want 1ms", t1.Sub(t0))
	}

	fired := <-c.After(time.Second)
	if !fired.After(t1) {
		t.Errorf("After fired at %v, expected later than %v", fired, t1)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"WARN", "warn"},
		{"error", "error"},
		{"", "info"},
		{"bogus", "info"},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in).String(); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := zap.NewExample().Sugar()
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}
