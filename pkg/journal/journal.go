// Package journal is an append-only NDJSON audit trail. Each line is
// {"ts": ..., "kind": ..., "record": ...}.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/uhyunpark/darwinex/pkg/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record kinds written by this module.
const (
	KindMatch      = "match"
	KindPressure   = "pressure"
	KindGeneration = "generation"
	KindPopulation = "population"
)

const maxLine = 4 << 20

var ErrClosed = errors.New("journal closed")

// Entry is one decoded journal line. Record is left raw so callers decode
// it into the type matching Kind.
type Entry struct {
	Timestamp time.Time           `json:"ts"`
	Kind      string              `json:"kind"`
	Record    jsoniter.RawMessage `json:"record"`
}

func (e Entry) Decode(v any) error {
	return json.Unmarshal(e.Record, v)
}

type line struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Record    any       `json:"record"`
}

// Writer serializes Append calls; it is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	out    *bufio.Writer
	closer io.Closer
	clock  util.Clock
	counts map[string]int
	closed bool
}

func NewWriter(w io.Writer, clock util.Clock) *Writer {
	if clock == nil {
		clock = util.RealClock{}
	}
	jw := &Writer{
		out:    bufio.NewWriter(w),
		clock:  clock,
		counts: make(map[string]int),
	}
	if c, ok := w.(io.Closer); ok {
		jw.closer = c
	}
	return jw
}

type FileOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// OpenFile appends to path, rotating it with lumberjack.
func OpenFile(path string, opts FileOptions, clock util.Clock) (*Writer, error) {
	if path == "" {
		return nil, errors.New("journal: empty path")
	}
	rot := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    orDefault(opts.MaxSizeMB, 100),
		MaxBackups: orDefault(opts.MaxBackups, 5),
		MaxAge:     orDefault(opts.MaxAgeDays, 30),
		Compress:   opts.Compress,
	}
	return NewWriter(rot, clock), nil
}

// Append writes one line and flushes it.
func (w *Writer) Append(kind string, record any) error {
	if kind == "" {
		return errors.New("journal: empty kind")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	b, err := json.Marshal(line{Timestamp: w.clock.Now().UTC(), Kind: kind, Record: record})
	if err != nil {
		return fmt.Errorf("journal: encode %s: %w", kind, err)
	}
	b = append(b, '\n')
	if _, err := w.out.Write(b); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	if err := w.out.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	w.counts[kind]++
	return nil
}

// Counts returns how many records of each kind this writer appended.
func (w *Writer) Counts() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int, len(w.counts))
	for k, v := range w.counts {
		out[k] = v
	}
	return out
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.out.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// Replay calls fn for every line of r in order. Blank lines are skipped.
// Returning an error from fn stops the replay and returns it.
func Replay(r io.Reader, fn func(Entry) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLine)
	n := 0
	for sc.Scan() {
		n++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("journal: line %d: %w", n, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Summary is a per-kind overview of a journal.
type Summary struct {
	Entries int            `json:"entries"`
	ByKind  map[string]int `json:"by_kind"`
	First   time.Time      `json:"first"`
	Last    time.Time      `json:"last"`
}

func Summarize(r io.Reader) (Summary, error) {
	s := Summary{ByKind: make(map[string]int)}
	err := Replay(r, func(e Entry) error {
		if s.Entries == 0 {
			s.First = e.Timestamp
		}
		s.Entries++
		s.ByKind[e.Kind]++
		s.Last = e.Timestamp
		return nil
	})
	return s, err
}

// Sink is the write side shared by every component that emits records.
type Sink interface {
	Append(kind string, record any) error
}

type tee []Sink

// Tee fans each record out to every non-nil sink. All sinks are tried; the
// first error is returned.
func Tee(sinks ...Sink) Sink {
	var out tee
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t tee) Append(kind string, record any) error {
	var first error
	for _, s := range t {
		if err := s.Append(kind, record); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
