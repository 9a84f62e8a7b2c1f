package publish

import (
	"context"
	"errors"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

// Publisher receives every level report and every alert transition.
type Publisher interface {
	PublishLevel(ctx context.Context, r *types.LevelReport) error
	PublishTransition(ctx context.Context, t *types.Transition) error
}

// Multi fans out to several publishers. A failing publisher does not stop the others.
type Multi []Publisher

// PublishLevel publishes r to every publisher and joins the errors.
func (m Multi) PublishLevel(ctx context.Context, r *types.LevelReport) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishLevel(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishTransition publishes t to every publisher and joins the errors.
func (m Multi) PublishTransition(ctx context.Context, t *types.Transition) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishTransition(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
