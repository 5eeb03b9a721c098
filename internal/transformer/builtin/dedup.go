package builtin

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"csvload/internal/apperrors"
	"csvload/pkg/records"
)

// Keep policies.
const (
	KeepFirst        = "first"
	KeepLast         = "last"
	KeepMostComplete = "most-complete"
	KeepNone         = "none"
)

// Dedup collapses rows that share a key and keeps one winner per key:
//
//   - "first"         : the earliest occurrence (default)
//   - "last"          : the latest occurrence
//   - "most-complete" : the occurrence with the most non-null values; ties
//     go to the earliest
//   - "none"          : every row of a duplicated key is removed
//
// Winners keep their input order. Keys hash the type-tagged, canonical form
// of the subset values with xxh3; a hash hit is confirmed by comparing the
// values so a collision never merges distinct rows.
//
// An empty Subset keys on every column.
type Dedup struct {
	Subset []string
	Keep   string
}

// NormalizeKeep maps accepted spellings to a policy, or "" if unknown.
func NormalizeKeep(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first", "keep-first":
		return KeepFirst
	case "last", "keep-last":
		return KeepLast
	case "most-complete":
		return KeepMostComplete
	case "none", "false":
		return KeepNone
	}
	return ""
}

type slot struct {
	index int
	score int
	count int
}

// Apply removes duplicates.
func (d Dedup) Apply(ctx context.Context, in *records.Table, st *Stats) (*records.Table, error) {
	policy := NormalizeKeep(d.Keep)
	if policy == "" {
		return nil, apperrors.Configf("", "unknown dedup keep policy %q", d.Keep)
	}
	keys := d.Subset
	if len(keys) == 0 {
		keys = in.Names()
	}
	for _, k := range keys {
		if err := needColumn(in, k); err != nil {
			return nil, err
		}
	}

	// groups maps a hash to the slots whose keys hashed to it.
	groups := make(map[xxh3.Uint128][]*slot, in.Len())
	var buf []byte
	for i, r := range in.Rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		buf = appendKey(buf[:0], r, keys)
		h := xxh3.Hash128(buf)
		var s *slot
		for _, cand := range groups[h] {
			if sameKey(in.Rows[cand.index], r, keys) {
				s = cand
				break
			}
		}
		score := 0
		if policy == KeepMostComplete {
			score = completeness(r)
		}
		if s == nil {
			groups[h] = append(groups[h], &slot{index: i, score: score, count: 1})
			continue
		}
		s.count++
		switch policy {
		case KeepLast:
			s.index = i
		case KeepMostComplete:
			if score > s.score {
				s.index, s.score = i, score
			}
		}
	}

	keep := make([]int, 0, len(groups))
	for _, ss := range groups {
		for _, s := range ss {
			if policy == KeepNone && s.count > 1 {
				continue
			}
			keep = append(keep, s.index)
		}
	}
	sort.Ints(keep)

	out := records.NewTable(in.Columns...)
	out.Rows = make([]records.Record, len(keep))
	for i, idx := range keep {
		out.Rows[i] = in.Rows[idx]
	}
	st.addDuplicates(in.Len() - out.Len())
	return out, nil
}

// appendKey writes a type tag and a fixed or length-prefixed encoding for
// each value, so "1" and 1 or ("a","bc") and ("ab","c") never collide.
func appendKey(b []byte, r records.Record, keys []string) []byte {
	for _, k := range keys {
		switch v := r[k].(type) {
		case nil:
			b = append(b, 0)
		case int64:
			b = append(b, 1)
			b = binary.LittleEndian.AppendUint64(b, uint64(v))
		case float64:
			b = append(b, 2)
			b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
		case string:
			b = append(b, 3)
			b = binary.LittleEndian.AppendUint32(b, uint32(len(v)))
			b = append(b, v...)
		case bool:
			if v {
				b = append(b, 4, 1)
			} else {
				b = append(b, 4, 0)
			}
		case time.Time:
			b = append(b, 5)
			b = binary.LittleEndian.AppendUint64(b, uint64(v.UnixNano()))
		}
	}
	return b
}

func sameKey(a, b records.Record, keys []string) bool {
	for _, k := range keys {
		av, bv := a[k], b[k]
		if at, ok := av.(time.Time); ok {
			bt, ok := bv.(time.Time)
			if !ok || !at.Equal(bt) {
				return false
			}
			continue
		}
		if av != bv {
			return false
		}
	}
	return true
}

func completeness(r records.Record) int {
	n := 0
	for _, v := range r {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		n++
	}
	return n
}
