package publish

import (
	"context"
	"errors"

	"github.com/nao1215/darc/internal/model"
)

// Sink receives visit outcomes after they were persisted.
type Sink interface {
	Publish(ctx context.Context, v *model.VisitOutcome) error
	Close() error
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

// Publish implements Sink.
func (m Multi) Publish(ctx context.Context, v *model.VisitOutcome) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
