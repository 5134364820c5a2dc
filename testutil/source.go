// Package testutil provides in-memory split providers and pipelines for
// exercising the snapshot protocol in tests. Elements are opaque bytes to
// the protocol; these helpers encode int64 and string payloads.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"

	snaperrors "github.com/c360/snapstream/errors"
	"github.com/c360/snapstream/snapshot"
)

// Int64Element encodes an int64 as an element payload.
func Int64Element(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

// ParseInt64Element decodes an element payload written by Int64Element.
func ParseInt64Element(el []byte) (int64, error) {
	return strconv.ParseInt(string(el), 10, 64)
}

// span is the split payload: a half-open element range.
type span struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// RangeSource produces the elements 0..N-1, partitioned into splits of
// SplitSize elements. It implements both snapshot.SplitProvider and
// snapshot.Pipeline, the way a real pipeline source offers both faces of
// the same computation.
//
// If Poison is non-nil, producing that value fails with an invalid-data
// error, standing in for a value-validation failure inside the pipeline.
type RangeSource struct {
	N         int64
	SplitSize int64
	Poison    *int64

	mu   sync.Mutex
	next int64
}

// NewRangeSource returns a source over 0..n-1 with the given split size.
func NewRangeSource(n, splitSize int64) *RangeSource {
	return &RangeSource{N: n, SplitSize: splitSize}
}

// Poisoned marks v as invalid so pipelines fail upon producing it.
func (s *RangeSource) Poisoned(v int64) *RangeSource {
	s.Poison = &v
	return s
}

// Next implements snapshot.SplitProvider.
func (s *RangeSource) Next(ctx context.Context) (snapshot.Split, bool, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Split{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.SplitSize
	if size <= 0 {
		size = 1
	}
	start := s.next * size
	if start >= s.N {
		return snapshot.Split{}, false, nil
	}
	end := start + size
	if end > s.N {
		end = s.N
	}

	payload, err := json.Marshal(span{Start: start, End: end})
	if err != nil {
		return snapshot.Split{}, false, err
	}
	split := snapshot.Split{Index: s.next, Payload: payload}
	s.next++
	return split, true, nil
}

// Open implements snapshot.Pipeline.
func (s *RangeSource) Open(ctx context.Context, split snapshot.Split) (snapshot.Iterator, error) {
	var sp span
	if err := json.Unmarshal(split.Payload, &sp); err != nil {
		return nil, fmt.Errorf("testutil: bad split payload: %w", err)
	}
	return &rangeIterator{pos: sp.Start, end: sp.End, poison: s.Poison}, nil
}

type rangeIterator struct {
	pos    int64
	end    int64
	poison *int64
}

func (it *rangeIterator) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= it.end {
		return nil, io.EOF
	}
	v := it.pos
	it.pos++
	if it.poison != nil && v == *it.poison {
		return nil, snaperrors.WrapInvalid(
			snaperrors.New("invalid value"), "testutil", "Next",
			fmt.Sprintf("invalid value %d encountered", v))
	}
	return Int64Element(v), nil
}

func (it *rangeIterator) Close() error { return nil }

// ElementSource produces a fixed element list, one split per ceil(len/size)
// contiguous block. Useful for non-numeric payload tests.
type ElementSource struct {
	Elements  [][]byte
	SplitSize int

	mu   sync.Mutex
	next int
}

// NewElementSource returns a source over the given elements.
func NewElementSource(splitSize int, elements ...[]byte) *ElementSource {
	return &ElementSource{Elements: elements, SplitSize: splitSize}
}

// Next implements snapshot.SplitProvider.
func (s *ElementSource) Next(ctx context.Context) (snapshot.Split, bool, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Split{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.SplitSize
	if size <= 0 {
		size = 1
	}
	start := s.next * size
	if start >= len(s.Elements) {
		return snapshot.Split{}, false, nil
	}
	end := start + size
	if end > len(s.Elements) {
		end = len(s.Elements)
	}

	payload, err := json.Marshal(span{Start: int64(start), End: int64(end)})
	if err != nil {
		return snapshot.Split{}, false, err
	}
	split := snapshot.Split{Index: int64(s.next), Payload: payload}
	s.next++
	return split, true, nil
}

// Open implements snapshot.Pipeline.
func (s *ElementSource) Open(ctx context.Context, split snapshot.Split) (snapshot.Iterator, error) {
	var sp span
	if err := json.Unmarshal(split.Payload, &sp); err != nil {
		return nil, fmt.Errorf("testutil: bad split payload: %w", err)
	}
	return &sliceIterator{elements: s.Elements[sp.Start:sp.End]}, nil
}

type sliceIterator struct {
	elements [][]byte
	pos      int
}

func (it *sliceIterator) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.elements) {
		return nil, io.EOF
	}
	el := it.elements[it.pos]
	it.pos++
	return el, nil
}

func (it *sliceIterator) Close() error { return nil }
