package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/dscommerce/internal/domain/apperr"
	"github.com/xenking/dscommerce/internal/domain/auth"
)

const (
	DefaultPageSize = 12
	MaxPageSize     = 100

	// DefaultPublishTimeout bounds how long a committed write waits on the
	// event publisher.
	DefaultPublishTimeout = time.Second
)

type options struct {
	publisher       EventPublisher
	tracerProvider  trace.TracerProvider
	meterProvider   metric.MeterProvider
	defaultPageSize int
	maxPageSize     int
	publishTimeout  time.Duration
}

// Option configures a Service.
type Option func(*options)

// WithPublisher sets the publisher notified after committed catalog changes.
func WithPublisher(p EventPublisher) Option {
	return func(o *options) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.publishTimeout = d
		}
	}
}

// WithTracerProvider sets the tracer provider. Defaults to a no-op provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the meter provider. Defaults to a no-op provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithPageSize overrides the default and maximum listing page sizes.
func WithPageSize(defaultSize, maxSize int) Option {
	return func(o *options) {
		if defaultSize > 0 {
			o.defaultPageSize = defaultSize
		}
		if maxSize > 0 {
			o.maxPageSize = maxSize
		}
	}
}

// Service manages the product lifecycle: public catalog reads and
// admin-only creation, update and deletion.
type Service struct {
	repo      Repository
	publisher EventPublisher
	tracer    trace.Tracer
	now       func() time.Time

	defaultPageSize int
	maxPageSize     int
	publishTimeout  time.Duration

	deletions          metric.Int64Counter
	validationFailures metric.Int64Counter
}

// NewService creates a product Service backed by repo.
func NewService(repo Repository, opts ...Option) (*Service, error) {
	o := options{
		publisher:       nopPublisher{},
		tracerProvider:  tracenoop.NewTracerProvider(),
		meterProvider:   metricnoop.NewMeterProvider(),
		defaultPageSize: DefaultPageSize,
		maxPageSize:     MaxPageSize,
		publishTimeout:  DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.defaultPageSize > o.maxPageSize {
		o.defaultPageSize = o.maxPageSize
	}

	meter := o.meterProvider.Meter("dscommerce/product")
	deletions, err := meter.Int64Counter("catalog.product.deletions",
		metric.WithDescription("Product deletion attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create deletions counter")
	}
	validationFailures, err := meter.Int64Counter("catalog.product.validation_failures",
		metric.WithDescription("Product writes rejected by field validation"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create validation failures counter")
	}

	return &Service{
		repo:               repo,
		publisher:          o.publisher,
		tracer:             o.tracerProvider.Tracer("dscommerce/product"),
		now:                time.Now,
		defaultPageSize:    o.defaultPageSize,
		maxPageSize:        o.maxPageSize,
		publishTimeout:     o.publishTimeout,
		deletions:          deletions,
		validationFailures: validationFailures,
	}, nil
}

// Get returns a single product. Reads are public.
func (s *Service) Get(ctx context.Context, productID int64) (_ *Product, rerr error) {
	ctx, span := s.tracer.Start(ctx, "product.Get",
		trace.WithAttributes(attribute.Int64("product.id", productID)),
	)
	defer func() { endSpan(span, rerr) }()

	p, err := s.repo.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %d", productID)
	}
	return p, nil
}

// List returns one page of products whose name contains params.Name,
// case-insensitively. Out-of-range paging values are clamped.
func (s *Service) List(ctx context.Context, params ListParams) (_ Page, rerr error) {
	ctx, span := s.tracer.Start(ctx, "product.List")
	defer func() { endSpan(span, rerr) }()

	if params.Page < 0 {
		params.Page = 0
	}
	switch {
	case params.Size <= 0:
		params.Size = s.defaultPageSize
	case params.Size > s.maxPageSize:
		params.Size = s.maxPageSize
	}

	page, err := s.repo.List(ctx, params)
	if err != nil {
		return Page{}, errors.Wrap(err, "list products")
	}
	return page, nil
}

// Categories returns every catalog category.
func (s *Service) Categories(ctx context.Context) (_ []Category, rerr error) {
	ctx, span := s.tracer.Start(ctx, "product.Categories")
	defer func() { endSpan(span, rerr) }()

	cats, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}
	return cats, nil
}

// Create stores a new product on behalf of an admin. The role check runs
// before validation so callers without the role learn nothing about field
// rules.
func (s *Service) Create(ctx context.Context, id auth.Identity, payload Payload) (_ *Product, rerr error) {
	ctx, span := s.tracer.Start(ctx, "product.Create")
	defer func() { endSpan(span, rerr) }()

	if d := auth.RequireRole(id, auth.RoleAdmin); d != auth.Allowed {
		return nil, auth.Deny(id, d)
	}
	if err := s.validate(ctx, payload); err != nil {
		return nil, err
	}

	p := fromPayload(payload)
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrUnknownCategory) {
			return nil, unknownCategory()
		}
		return nil, errors.Wrap(err, "create product")
	}

	span.SetAttributes(attribute.Int64("product.id", p.ID))
	s.publish(ctx, EventCreated, p.ID)
	return p, nil
}

// Update replaces the content of an existing product on behalf of an admin.
func (s *Service) Update(ctx context.Context, id auth.Identity, productID int64, payload Payload) (_ *Product, rerr error) {
	ctx, span := s.tracer.Start(ctx, "product.Update",
		trace.WithAttributes(attribute.Int64("product.id", productID)),
	)
	defer func() { endSpan(span, rerr) }()

	if d := auth.RequireRole(id, auth.RoleAdmin); d != auth.Allowed {
		return nil, auth.Deny(id, d)
	}
	if err := s.validate(ctx, payload); err != nil {
		return nil, err
	}

	p := fromPayload(payload)
	p.ID = productID
	if err := s.repo.Update(ctx, p); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, apperr.ErrNotFound
		case errors.Is(err, ErrUnknownCategory):
			return nil, unknownCategory()
		default:
			return nil, errors.Wrapf(err, "update product %d", productID)
		}
	}

	s.publish(ctx, EventUpdated, p.ID)
	return p, nil
}

// Delete removes a product on behalf of an admin.
//
// The steps are authorization, existence, then the storage delete. Each
// rejection is terminal and only the last step mutates state. A product still
// referenced by order items yields apperr.ErrDependencyConflict and is left
// untouched.
func (s *Service) Delete(ctx context.Context, id auth.Identity, productID int64) (rerr error) {
	ctx, span := s.tracer.Start(ctx, "product.Delete",
		trace.WithAttributes(attribute.Int64("product.id", productID)),
	)
	defer func() {
		s.deletions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("result", deleteResult(rerr)),
		))
		endSpan(span, rerr)
	}()

	if d := auth.RequireRole(id, auth.RoleAdmin); d != auth.Allowed {
		return auth.Deny(id, d)
	}

	if _, err := s.repo.GetByID(ctx, productID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.ErrNotFound
		}
		return errors.Wrapf(err, "get product %d", productID)
	}

	if err := s.repo.Delete(ctx, productID); err != nil {
		switch {
		case errors.Is(err, ErrIntegrityViolation):
			return apperr.ErrDependencyConflict
		case errors.Is(err, ErrNotFound):
			// Removed concurrently between the lookup and the delete.
			return apperr.ErrNotFound
		default:
			return errors.Wrapf(err, "delete product %d", productID)
		}
	}

	s.publish(ctx, EventDeleted, productID)
	return nil
}

func (s *Service) validate(ctx context.Context, payload Payload) error {
	violations := Validate(payload)
	if len(violations) == 0 {
		return nil
	}
	s.validationFailures.Add(ctx, 1)
	return apperr.NewValidationError(violations...)
}

// publish is best-effort: the change is already committed. It waits at most
// publishTimeout and does not inherit the caller's cancellation.
func (s *Service) publish(ctx context.Context, typ EventType, productID int64) {
	e := Event{Type: typ, ProductID: productID, At: s.now()}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, e); err != nil {
		zctx.From(ctx).Warn("Publish catalog event",
			zap.String("type", string(typ)),
			zap.Int64("product_id", productID),
			zap.Error(err),
		)
	}
}

func fromPayload(payload Payload) *Product {
	cats := make([]Category, len(payload.CategoryIDs))
	for i, id := range payload.CategoryIDs {
		cats[i] = Category{ID: id}
	}
	return &Product{
		Name:        payload.Name,
		Description: payload.Description,
		ImgURL:      payload.ImgURL,
		Price:       payload.Price.Decimal,
		Active:      true,
		Categories:  cats,
	}
}

func unknownCategory() error {
	return apperr.NewValidationError(apperr.Violation{
		Field:   FieldCategories,
		Message: MsgCategoryUnknown,
	})
}

func deleteResult(err error) string {
	if err == nil {
		return "deleted"
	}
	return apperr.KindOf(err).String()
}

func endSpan(span trace.Span, err error) {
	if err != nil && apperr.KindOf(err) == apperr.KindUnexpected {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
