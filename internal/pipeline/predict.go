package pipeline

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mobility-cli/internal/tabular"
)

// ColumnAlignmentError reports a prediction-side feature column the model
// was never trained on. Zero-filling can cover a missing column, but an
// extra one has no defensible interpretation.
type ColumnAlignmentError struct {
	Column string
	Want   []string
}

func (e *ColumnAlignmentError) Error() string {
	return fmt.Sprintf("pipeline: feature column %q is not in the training order %v", e.Column, e.Want)
}

// IsColumnAlignmentError reports whether err is a ColumnAlignmentError.
func IsColumnAlignmentError(err error) bool {
	var ae *ColumnAlignmentError
	return errors.As(err, &ae)
}

// Align rewrites j's feature columns to exactly the given training order:
// columns the join never produced are zero-filled, and a joined feature
// column absent from the training order is a ColumnAlignmentError. Aligning
// an already-aligned join is a no-op, so the call is idempotent.
func Align(j *Joined, want []string) error {
	wantSet := make(map[string]bool, len(want))
	for _, c := range want {
		wantSet[c] = true
	}
	for _, c := range j.Columns {
		if !wantSet[c] {
			return &ColumnAlignmentError{Column: c, Want: append([]string(nil), want...)}
		}
	}

	have := make(map[string]bool, len(j.Columns))
	for _, c := range j.Columns {
		have[c] = true
	}
	for _, c := range want {
		if have[c] {
			continue
		}
		zeros := make([]string, len(j.Table.Rows))
		for i := range zeros {
			zeros[i] = "0"
		}
		if err := j.Table.AddColumn(c, zeros); err != nil {
			return eris.Wrap(err, "predict: zero-fill feature column")
		}
	}

	j.Columns = append([]string(nil), want...)
	return nil
}

// Predict aligns the joined prediction table to the model's training column
// order, runs inference and writes the predictions onto a copy of the
// original table under the target column. Every original row and column
// survives untouched.
func Predict(f *Fitted, j *Joined) (*tabular.Table, error) {
	if err := Align(j, f.Columns); err != nil {
		return nil, err
	}

	X, err := featureMatrix(j.Table, j.Columns)
	if err != nil {
		return nil, err
	}

	preds, err := f.reg.Predict(X)
	if err != nil {
		return nil, eris.Wrap(err, "predict: run inference")
	}

	out := j.Source.Clone()
	if len(preds) != len(out.Rows) {
		return nil, eris.Errorf("predict: %d predictions for %d rows", len(preds), len(out.Rows))
	}

	values := make([]string, len(preds))
	for i, p := range preds {
		values[i] = strconv.FormatFloat(p, 'g', -1, 64)
	}

	if idx, ok := out.ColumnIndex(tabular.TargetColumn); ok {
		for i := range out.Rows {
			out.Rows[i][idx] = values[i]
		}
	} else if err := out.AddColumn(tabular.TargetColumn, values); err != nil {
		return nil, eris.Wrap(err, "predict: attach target column")
	}

	zap.L().Info("predicted target",
		zap.String("algorithm", f.Algorithm),
		zap.Int("rows", len(out.Rows)),
	)
	return out, nil
}
