// Package transformer turns a declarative rule config into an ordered list of
// table steps and runs them. The steps themselves live in the builtin
// subpackage.
package transformer

import (
	"context"

	"csvload/internal/transformer/builtin"
	"csvload/pkg/records"
)

// Stats is the per-run outcome summary shared with the steps.
type Stats = builtin.Stats

// Transformer is one step over a table. It may modify in and return it, or
// return a filtered copy.
type Transformer interface {
	Apply(ctx context.Context, in *records.Table, st *Stats) (*records.Table, error)
}

// Chain is an ordered list of transformers.
type Chain []Transformer

// Apply runs every transformer in order, stopping at the first error or when
// ctx is done.
func (c Chain) Apply(ctx context.Context, in *records.Table, st *Stats) (*records.Table, error) {
	out := in
	for _, t := range c {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		if out, err = t.Apply(ctx, out, st); err != nil {
			return nil, err
		}
	}
	return out, nil
}
