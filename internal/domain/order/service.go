package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/dscommerce/internal/domain/auth"
)

// Service encapsulates guarded order reads.
type Service struct {
	orders Repository
	tracer trace.Tracer
}

// NewService creates an order Service. A nil tracer provider falls back to a
// no-op provider.
func NewService(orders Repository, tp trace.TracerProvider) *Service {
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	return &Service{
		orders: orders,
		tracer: tp.Tracer("dscommerce/order"),
	}
}

// Get returns an order readable by id: the owning client or an admin.
//
// Unauthenticated callers are rejected before storage is consulted, so they
// cannot learn which orders exist.
func (s *Service) Get(ctx context.Context, id auth.Identity, orderID int64) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Get",
		trace.WithAttributes(attribute.Int64("order.id", orderID)),
	)
	defer span.End()

	if _, ok := id.Principal(); !ok {
		return nil, auth.Deny(id, auth.Unauthorized)
	}

	o, err := s.orders.GetByID(ctx, orderID)
	found := true
	switch {
	case errors.Is(err, ErrNotFound):
		found = false
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrapf(err, "get order %d", orderID)
	}

	var ownerID int64
	if found {
		ownerID = o.Client.ID
	}
	if d := auth.Authorize(id, found, ownerID); d != auth.Allowed {
		span.SetAttributes(attribute.String("authz.decision", d.String()))
		return nil, auth.Deny(id, d)
	}
	return o, nil
}
