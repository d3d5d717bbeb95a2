package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/dscommerce/internal/domain/apperr"
	"github.com/xenking/dscommerce/internal/domain/auth"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	byID  map[int64]*Order
	err   error
	calls int
}

func (m *mockOrderRepo) GetByID(_ context.Context, id int64) (*Order, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

// --- Helpers ---

var (
	admin = auth.Principal{ID: 1, Name: "Alex Green", Roles: []auth.Role{auth.RoleClient, auth.RoleAdmin}}
	maria = auth.Principal{ID: 2, Name: "Maria Brown", Roles: []auth.Role{auth.RoleClient}}
	bob   = auth.Principal{ID: 3, Name: "Bob Brown", Roles: []auth.Role{auth.RoleClient}}
)

func mariaOrder() *Order {
	return &Order{
		ID:     1,
		Moment: time.Date(2022, 7, 25, 13, 0, 0, 0, time.UTC),
		Status: StatusPaid,
		Client: Client{ID: 2, Name: "Maria Brown"},
		Items: []Item{
			{ProductID: 1, Name: "The Lord of the Rings", Price: decimal.RequireFromString("90.5"), Quantity: 2},
			{ProductID: 3, Name: "Macbook Pro", Price: decimal.RequireFromString("1250.0"), Quantity: 1},
		},
		Payment: &Payment{ID: 1, Moment: time.Date(2022, 7, 25, 15, 0, 0, 0, time.UTC)},
	}
}

func newRepo(orders ...*Order) *mockOrderRepo {
	byID := make(map[int64]*Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	return &mockOrderRepo{byID: byID}
}

// --- Tests ---

func TestService_Get(t *testing.T) {
	tests := []struct {
		name    string
		id      auth.Identity
		orderID int64
		wantErr error
	}{
		{name: "owner", id: auth.Authenticated(maria), orderID: 1},
		{name: "admin reads any order", id: auth.Authenticated(admin), orderID: 1},
		{name: "other client", id: auth.Authenticated(bob), orderID: 1, wantErr: apperr.ErrForbidden},
		{name: "admin and missing order", id: auth.Authenticated(admin), orderID: 100, wantErr: apperr.ErrNotFound},
		{name: "client and missing order", id: auth.Authenticated(maria), orderID: 100, wantErr: apperr.ErrNotFound},
		{name: "invalid credential", id: auth.Unauthenticated(auth.ErrInvalidCredential), orderID: 1, wantErr: apperr.ErrUnauthorized},
		{name: "invalid credential and missing order", id: auth.Unauthenticated(auth.ErrInvalidCredential), orderID: 100, wantErr: apperr.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newRepo(mariaOrder()), nil)

			o, err := svc.Get(context.Background(), tt.id, tt.orderID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, o)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(1), o.ID)
		})
	}
}

func TestService_Get_UnauthenticatedSkipsStorage(t *testing.T) {
	repo := newRepo(mariaOrder())
	svc := NewService(repo, nil)

	_, err := svc.Get(context.Background(), auth.Identity{}, 1)
	require.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Zero(t, repo.calls)
}

func TestService_Get_TokenStoreFailureIsUnexpected(t *testing.T) {
	repo := newRepo(mariaOrder())
	svc := NewService(repo, nil)
	storeErr := errors.New("lookup token: connection refused")

	_, err := svc.Get(context.Background(), auth.Unauthenticated(storeErr), 1)
	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, apperr.KindUnexpected, apperr.KindOf(err))
	assert.Zero(t, repo.calls)
}

func TestService_Get_StorageFailure(t *testing.T) {
	repo := &mockOrderRepo{err: errors.New("db read failed")}
	svc := NewService(repo, nil)

	_, err := svc.Get(context.Background(), auth.Authenticated(admin), 1)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnexpected, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "get order 1")
}

func TestOrder_Total(t *testing.T) {
	tests := []struct {
		name  string
		items []Item
		want  string
	}{
		{name: "no items", want: "0"},
		{
			name: "seeded order",
			items: []Item{
				{Price: decimal.RequireFromString("90.5"), Quantity: 2},
				{Price: decimal.RequireFromString("1250.0"), Quantity: 1},
			},
			want: "1431.0",
		},
		{
			name: "two items summing to 1431",
			items: []Item{
				{Price: decimal.RequireFromString("1250.0"), Quantity: 1},
				{Price: decimal.RequireFromString("181.0"), Quantity: 1},
			},
			want: "1431",
		},
		{
			name: "no float drift over many cents",
			items: func() []Item {
				items := make([]Item, 1000)
				for i := range items {
					items[i] = Item{Price: decimal.RequireFromString("0.1"), Quantity: 3}
				}
				return items
			}(),
			want: "300",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Order{Items: tt.items}
			got := o.Total()
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestOrder_TotalMatchesSubtotals(t *testing.T) {
	o := mariaOrder()
	before := *o

	sum := decimal.Zero
	for _, item := range o.Items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	assert.True(t, sum.Equal(o.Total()))
	assert.True(t, o.Total().Equal(o.Total()))
	assert.Equal(t, before, *o)
}

func TestItem_Subtotal(t *testing.T) {
	item := Item{Price: decimal.RequireFromString("90.5"), Quantity: 2}
	assert.True(t, decimal.RequireFromString("181").Equal(item.Subtotal()))
}
