// Package prescription assembles prescription read models and authors
// prescriptions on behalf of doctor identities.
package prescription

import (
	"errors"
	"time"

	"github.com/jwalitptl/rx-api/internal/repository"
	apperrors "github.com/jwalitptl/rx-api/pkg/errors"
	"github.com/jwalitptl/rx-api/pkg/logger"
	"github.com/jwalitptl/rx-api/pkg/metrics"
)

// Store is the part of the record store the service reads and writes.
type Store interface {
	repository.ProfileRepository
	repository.DoctorRepository
	repository.PatientRepository
	repository.PrescriptionRepository
}

type options struct {
	now     func() time.Time
	metrics *metrics.Metrics
	log     *logger.Logger
}

type Option func(*options)

// WithClock replaces time.Now, which also stands in for NULL dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// storeFailure keeps StoreFailure errors as they are and wraps anything else
// with its message unchanged.
func storeFailure(err error) error {
	if apperrors.IsCode(err, apperrors.ErrStoreFailure) {
		return err
	}
	return apperrors.NewStoreFailure(err)
}

// writeError maps a store write error. Policy and constraint errors already
// carry a code; a hidden row is reported as not found.
func writeError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFound("prescription", err)
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.NewStoreFailure(err)
}
