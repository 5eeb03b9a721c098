// Package builtin contains the table steps the rule engine is compiled
// into. Each step works on one column. Steps may modify the table they are
// given and return it (or a filtered copy); the engine hands them a private
// clone of the caller's table.
package builtin

import (
	"fmt"
	"sort"
)

// Stats collects the row-level outcomes the steps resolve on their own.
// All methods are safe on a nil receiver.
type Stats struct {
	RowsIn  int
	RowsOut int
	// Dropped counts removed rows per "<column>:<op>" key.
	Dropped map[string]int
	// Filled counts nulls replaced per column.
	Filled map[string]int
	// ConversionFailures counts values that did not convert, per column.
	ConversionFailures map[string]int
	// Flags counts rows marked false per flag column (<column>_valid).
	Flags map[string]int
	// Duplicates counts rows removed by de-duplication.
	Duplicates int
}

// NewStats returns an empty Stats.
func NewStats() *Stats {
	return &Stats{
		Dropped:            map[string]int{},
		Filled:             map[string]int{},
		ConversionFailures: map[string]int{},
		Flags:              map[string]int{},
	}
}

func (s *Stats) addDropped(column, op string, n int) {
	if s == nil || n == 0 {
		return
	}
	s.Dropped[fmt.Sprintf("%s:%s", column, op)] += n
}

func (s *Stats) addFilled(column string, n int) {
	if s == nil || n == 0 {
		return
	}
	s.Filled[column] += n
}

func (s *Stats) addConversionFailure(column string) {
	if s == nil {
		return
	}
	s.ConversionFailures[column]++
}

func (s *Stats) addDuplicates(n int) {
	if s == nil {
		return
	}
	s.Duplicates += n
}

// SetFlagCount records the number of false values in a flag column.
func (s *Stats) SetFlagCount(flag string, n int) {
	if s == nil {
		return
	}
	s.Flags[flag] = n
}

// TotalDropped sums Dropped and Duplicates.
func (s *Stats) TotalDropped() int {
	if s == nil {
		return 0
	}
	n := s.Duplicates
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

// FlagNames returns the flag columns in sorted order.
func (s *Stats) FlagNames() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Flags))
	for k := range s.Flags {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
