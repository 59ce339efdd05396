package media

import (
	"context"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
)

// RegenerateDerivatives throws away a file's secondary representations and
// builds them again, e.g. after the generator's configuration changed.
func (s *MediaService) RegenerateDerivatives(ctx context.Context, subj Subject, id int64) (res *UploadResult, err error) {
	const op = "regenerate"
	ctx, span := s.startSpan(ctx, op, subj, attribute.Int64("entry_id", id))
	defer func() { endSpan(span, err) }()

	e, err := s.load(ctx, subj, id, ActionEdit, op)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, &Error{Code: ErrInvalidArgument, Op: op, ID: id, Message: "directories have no derivatives"}
	}

	abs := s.paths.Abs(e)
	if err := s.removeDerivatives(filepath.Dir(abs), e.Derivatives); err != nil {
		return nil, storageErr(op, id, err, "removing old derivatives")
	}

	res = &UploadResult{Entry: e}
	s.generateDerivatives(ctx, res, abs)
	s.logger.Info("derivatives regenerated", "entry_id", id, "count", len(res.Entry.Derivatives))
	return res, nil
}
