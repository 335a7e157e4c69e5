package journal

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/uhyunpark/darwinex/pkg/util"
)

type sample struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAppendReplay(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, util.NewStepClock(epoch, time.Second))

	if err := w.Append(KindMatch, sample{ID: "match-1", Score: 0.05}); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(KindPressure, map[string]float64{"pressure": 0.494}); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(KindMatch, sample{ID: "match-2", Score: -0.02}); err != nil {
		t.Fatal(err)
	}

	if n := strings.Count(buf.String(), "\n"); n != 3 {
		t.Fatalf("lines = %d, want 3", n)
	}

	var kinds []string
	var matches []sample
	err := Replay(bytes.NewReader(buf.Bytes()), func(e Entry) error {
		kinds = append(kinds, e.Kind)
		if e.Kind == KindMatch {
			var s sample
			if err := e.Decode(&s); err != nil {
				return err
			}
			matches = append(matches, s)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(kinds, ",") != "match,pressure,match" {
		t.Errorf("kinds = %v", kinds)
	}
	if len(matches) != 2 || matches[1].ID != "match-2" || matches[1].Score != -0.02 {
		t.Errorf("matches = %+v", matches)
	}

	if c := w.Counts(); c[KindMatch] != 2 || c[KindPressure] != 1 {
		t.Errorf("counts = %v", c)
	}
}

func TestSummarize(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, util.NewStepClock(epoch, time.Minute))
	for i := 0; i < 3; i++ {
		_ = w.Append(KindGeneration, map[string]int{"generation": i})
	}
	_ = w.Append(KindPressure, map[string]float64{"pressure": 0.5})

	s, err := Summarize(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if s.Entries != 4 || s.ByKind[KindGeneration] != 3 || s.ByKind[KindPressure] != 1 {
		t.Errorf("summary = %+v", s)
	}
	if !s.First.Equal(epoch) || !s.Last.Equal(epoch.Add(3*time.Minute)) {
		t.Errorf("span = %v .. %v", s.First, s.Last)
	}
}

func TestReplay_Errors(t *testing.T) {
	in := "{\"ts\":\"2026-01-01T00:00:00Z\",\"kind\":\"match\",\"record\":{}}\n\nnot json\n"
	err := Replay(strings.NewReader(in), func(Entry) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Errorf("err = %v, want line 3 decode error", err)
	}

	stop := errors.New("stop")
	calls := 0
	err = Replay(strings.NewReader(in), func(Entry) error { calls++; return stop })
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("err = %v after %d calls", err, calls)
	}
}

func TestAppend_Rejects(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)

	if err := w.Append("", sample{}); err == nil {
		t.Error("empty kind accepted")
	}
	if err := w.Append(KindMatch, math.Inf(1)); err == nil {
		t.Error("unencodable record accepted")
	}
	if buf.Len() != 0 {
		t.Errorf("partial write: %q", buf.String())
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(KindMatch, sample{}); !errors.Is(err, ErrClosed) {
		t.Errorf("append after close = %v, want ErrClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close = %v", err)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "journal.ndjson")
	w, err := OpenFile(path, FileOptions{}, util.NewStepClock(epoch, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(KindPopulation, sample{ID: "pop"}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	s, err := Summarize(f)
	if err != nil {
		t.Fatal(err)
	}
	if s.ByKind[KindPopulation] != 1 {
		t.Errorf("summary = %+v", s)
	}

	if _, err := OpenFile("", FileOptions{}, nil); err == nil {
		t.Error("empty path accepted")
	}
}

type failing struct{ calls int }

func (f *failing) Append(string, any) error { f.calls++; return errors.New("down") }

func TestTee(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	bad := &failing{}

	sink := Tee(bad, nil, w)
	if err := sink.Append(KindMatch, sample{ID: "m"}); err == nil {
		t.Error("error from first sink swallowed")
	}
	if bad.calls != 1 || w.Counts()[KindMatch] != 1 {
		t.Errorf("fan-out: failing=%d writer=%v", bad.calls, w.Counts())
	}
	if err := Tee().Append(KindMatch, nil); err != nil {
		t.Errorf("empty tee = %v", err)
	}
}
