package mutation

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-resource-query/resource"
)

// Kind is the write operation of a mutation.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Op describes one write. ID is required for update and delete; Payload is
// the request body for create and update.
type Op struct {
	Kind    Kind
	ID      string
	Payload any
}

// Validate checks the operation kind.
func (o Op) Validate() error {
	return validation.Validate(o.Kind, validation.Required, validation.In(KindCreate, KindUpdate, KindDelete))
}

// Invalidator drops cached reads of a resource. *querycache.Cache implements it.
type Invalidator interface {
	InvalidateResource(name string)
}

// Outcome is reported to OnSettled hooks after every mutation.
type Outcome struct {
	Resource    string
	Kind        Kind
	ID          string
	Err         error
	Duration    time.Duration
	Invalidated []string
}

// OnSettled observes mutation outcomes, successful or not.
type OnSettled func(ctx context.Context, outcome Outcome)

// Executor runs writes through the resource client and invalidates the
// cache on success. Failed writes are returned unchanged and never retried.
type Executor struct {
	client      *resource.Client
	invalidator Invalidator
	logger      zerolog.Logger
	observers   []OnSettled
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithOnSettled adds an outcome observer.
func WithOnSettled(fn OnSettled) Option {
	return func(e *Executor) {
		if fn != nil {
			e.observers = append(e.observers, fn)
		}
	}
}

// New returns an executor writing through client. A nil invalidator
// disables invalidation.
func New(client *resource.Client, invalidator Invalidator, opts ...Option) *Executor {
	e := &Executor{
		client:      client,
		invalidator: invalidator,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Client returns the resource client used for writes.
func (e *Executor) Client() *resource.Client { return e.client }

// Mutate runs op against the resource described by d. On success the
// resource, plus any names attached with WithInvalidates, is invalidated.
// Delete returns the zero T.
func Mutate[T any](ctx context.Context, e *Executor, d resource.Descriptor[T], op Op) (T, error) {
	var (
		rec T
		err error
	)

	if err = op.Validate(); err != nil {
		return rec, fmt.Errorf("mutation %s: invalid op: %w", d.Name, err)
	}

	start := time.Now()
	switch op.Kind {
	case KindCreate:
		rec, err = resource.Create(ctx, e.client, d, op.Payload)
	case KindUpdate:
		rec, err = resource.Update(ctx, e.client, d, op.ID, op.Payload)
	case KindDelete:
		err = resource.Delete(ctx, e.client, d, op.ID)
	}

	outcome := Outcome{
		Resource: d.Name,
		Kind:     op.Kind,
		ID:       op.ID,
		Err:      err,
		Duration: time.Since(start),
	}

	if err != nil {
		e.logger.Error().Err(err).
			Str("resource", d.Name).
			Str("op", string(op.Kind)).
			Str("id", op.ID).
			Msg("mutation failed")
		e.settle(ctx, outcome)
		return rec, err
	}

	if outcome.ID == "" {
		if id, idErr := d.RecordID(rec); idErr == nil {
			outcome.ID = id
		}
	}

	outcome.Invalidated = e.invalidate(ctx, d.Name)

	e.logger.Info().
		Str("resource", d.Name).
		Str("op", string(op.Kind)).
		Str("id", outcome.ID).
		Strs("invalidated", outcome.Invalidated).
		Dur("duration", outcome.Duration).
		Msg("mutation succeeded")
	e.settle(ctx, outcome)
	return rec, nil
}

// Create posts payload as a new record.
func Create[T any](ctx context.Context, e *Executor, d resource.Descriptor[T], payload any) (T, error) {
	return Mutate(ctx, e, d, Op{Kind: KindCreate, Payload: payload})
}

// Update replaces the record with the given id.
func Update[T any](ctx context.Context, e *Executor, d resource.Descriptor[T], id string, payload any) (T, error) {
	return Mutate(ctx, e, d, Op{Kind: KindUpdate, ID: id, Payload: payload})
}

// Delete removes the record with the given id.
func Delete[T any](ctx context.Context, e *Executor, d resource.Descriptor[T], id string) error {
	_, err := Mutate(ctx, e, d, Op{Kind: KindDelete, ID: id})
	return err
}

func (e *Executor) invalidate(ctx context.Context, name string) []string {
	names := dedupe(append([]string{name}, invalidatesFromContext(ctx)...))
	if e.invalidator == nil {
		return nil
	}
	for _, n := range names {
		e.invalidator.InvalidateResource(n)
	}
	return names
}

func (e *Executor) settle(ctx context.Context, outcome Outcome) {
	for _, fn := range e.observers {
		fn(ctx, outcome)
	}
}
