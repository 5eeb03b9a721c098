package builtin

import (
	"context"

	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/pkg/records"
)

// Coerce converts every non-null value of Column to Target. Failed values
// become null (PolicyNull) or drop their row (PolicyDrop); each failure is
// logged at debug level with its row.
type Coerce struct {
	Column string
	Target records.Type
	Policy Policy
	Log    *zap.Logger
}

// Apply converts the column and sets its declared type.
func (c Coerce) Apply(_ context.Context, in *records.Table, st *Stats) (*records.Table, error) {
	if err := needColumn(in, c.Column); err != nil {
		return nil, err
	}
	log := c.Log
	if log == nil {
		log = zap.NewNop()
	}
	bad := map[int]bool{}
	for i, r := range in.Rows {
		v, err := records.Convert(r[c.Column], c.Target)
		if err != nil {
			cerr := &apperrors.ConversionError{Column: c.Column, Row: i, Value: r[c.Column], Target: string(c.Target)}
			log.Debug("conversion failed", zap.Error(cerr))
			st.addConversionFailure(c.Column)
			bad[i] = true
			v = nil
		}
		r[c.Column] = v
	}
	if err := in.SetType(c.Column, c.Target); err != nil {
		return nil, err
	}
	switch c.Policy {
	case PolicyNull, "":
		return in, nil
	case PolicyDrop:
		out := in.Filter(func(i int, _ records.Record) bool { return !bad[i] })
		st.addDropped(c.Column, "convert_type", in.Len()-out.Len())
		return out, nil
	}
	return nil, apperrors.Configf("", "unsupported convert_type policy %q", c.Policy)
}
