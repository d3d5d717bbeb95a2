package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/dscommerce/internal/domain/auth"
	"github.com/xenking/dscommerce/internal/domain/order"
	"github.com/xenking/dscommerce/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	mu         sync.Mutex
	nextID     int64
	products   map[int64]product.Product
	categories map[int64]product.Category
	referenced map[int64]bool
	err        error
}

func newProductRepo() *mockProductRepo {
	return &mockProductRepo{
		nextID: 26,
		products: map[int64]product.Product{
			1: {
				ID: 1, Name: "The Lord of the Rings", Description: "Lorem ipsum dolor sit amet",
				Price: decimal.RequireFromString("90.5"), ImgURL: "1-big.jpg", Active: true,
				Categories: []product.Category{{ID: 1, Name: "Livros"}},
			},
			2: {
				ID: 2, Name: "Smart TV", Description: "Lorem ipsum dolor sit amet",
				Price: decimal.RequireFromString("2190.0"), ImgURL: "2-big.jpg", Active: true,
				Categories: []product.Category{{ID: 2, Name: "Eletrônicos"}, {ID: 3, Name: "Computadores"}},
			},
			3: {
				ID: 3, Name: "Macbook Pro", Description: "Lorem ipsum dolor sit amet",
				Price: decimal.RequireFromString("1250.0"), ImgURL: "3-big.jpg", Active: true,
				Categories: []product.Category{{ID: 3, Name: "Computadores"}},
			},
		},
		categories: map[int64]product.Category{
			1: {ID: 1, Name: "Livros"},
			2: {ID: 2, Name: "Eletrônicos"},
			3: {ID: 3, Name: "Computadores"},
		},
		referenced: map[int64]bool{3: true},
	}
}

func (m *mockProductRepo) List(_ context.Context, params product.ListParams) (product.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return product.Page{}, m.err
	}
	var matched []product.Product
	for _, p := range m.products {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(params.Name)) {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	page := product.Page{Number: params.Page, Size: params.Size, TotalElements: int64(len(matched))}
	from := params.Page * params.Size
	if from < len(matched) {
		page.Content = matched[from:min(from+params.Size, len(matched))]
	}
	return page, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id int64) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) fill(p *product.Product) error {
	for i, c := range p.Categories {
		stored, ok := m.categories[c.ID]
		if !ok {
			return product.ErrUnknownCategory
		}
		p.Categories[i] = stored
	}
	return nil
}

func (m *mockProductRepo) Create(_ context.Context, p *product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fill(p); err != nil {
		return err
	}
	p.ID = m.nextID
	m.nextID++
	m.products[p.ID] = *p
	return nil
}

func (m *mockProductRepo) Update(_ context.Context, p *product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return product.ErrNotFound
	}
	if err := m.fill(p); err != nil {
		return err
	}
	m.products[p.ID] = *p
	return nil
}

func (m *mockProductRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return product.ErrNotFound
	}
	if m.referenced[id] {
		return product.ErrIntegrityViolation
	}
	delete(m.products, id)
	return nil
}

func (m *mockProductRepo) ListCategories(_ context.Context) ([]product.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]product.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockProductRepo) ExistsByName(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if strings.EqualFold(p.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

type mockOrderRepo struct {
	orders map[int64]*order.Order
	err    error
}

func (m *mockOrderRepo) GetByID(_ context.Context, id int64) (*order.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

// mockResolver maps full Authorization header values to principals.
type mockResolver map[string]auth.Principal

func (m mockResolver) Resolve(_ context.Context, credential string) (auth.Principal, error) {
	if credential == "" {
		return auth.Principal{}, auth.ErrMissingCredential
	}
	if credential == storeDownHeader {
		return auth.Principal{}, errors.New("lookup token: connection refused")
	}
	p, ok := m[credential]
	if !ok {
		return auth.Principal{}, auth.ErrInvalidCredential
	}
	return p, nil
}

// --- Helpers ---

const (
	adminToken  = "Bearer admin-token"
	mariaToken  = "Bearer maria-token"
	bobToken    = "Bearer bob-token"
	bogusHeader = "Bearer nope"
	// storeDownHeader makes mockResolver fail as if the token store were
	// unreachable.
	storeDownHeader = "Bearer store-down"
)

func testOrders() map[int64]*order.Order {
	moment := time.Date(2022, 7, 25, 13, 0, 0, 0, time.UTC)
	return map[int64]*order.Order{
		1: {
			ID: 1, Moment: moment, Status: order.StatusPaid,
			Client:  order.Client{ID: 2, Name: "Maria Brown"},
			Payment: &order.Payment{ID: 1, Moment: moment.Add(2 * time.Hour)},
			Items: []order.Item{
				{ProductID: 1, Name: "The Lord of the Rings", ImgURL: "1-big.jpg", Price: decimal.RequireFromString("90.5"), Quantity: 2},
				{ProductID: 3, Name: "Macbook Pro", ImgURL: "3-big.jpg", Price: decimal.RequireFromString("1250.0"), Quantity: 1},
			},
		},
		2: {
			ID: 2, Moment: moment, Status: order.StatusWaitingPayment,
			Client: order.Client{ID: 3, Name: "Bob Grey"},
			Items: []order.Item{
				{ProductID: 3, Name: "Macbook Pro", ImgURL: "3-big.jpg", Price: decimal.RequireFromString("1250.0"), Quantity: 1},
			},
		},
	}
}

type testEnv struct {
	mux      *http.ServeMux
	products *mockProductRepo
	orders   *mockOrderRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	products := newProductRepo()
	orders := &mockOrderRepo{orders: testOrders()}

	productService, err := product.NewService(products)
	require.NoError(t, err)
	orderService := order.NewService(orders, nil)

	resolver := mockResolver{
		adminToken: {ID: 1, Name: "Alex Green", Roles: []auth.Role{auth.RoleClient, auth.RoleAdmin}},
		mariaToken: {ID: 2, Name: "Maria Brown", Roles: []auth.Role{auth.RoleClient}},
		bobToken:   {ID: 3, Name: "Bob Grey", Roles: []auth.Role{auth.RoleClient}},
	}

	h := NewHandler(HandlerConfig{ImageBaseURL: "https://img.example.com/"}, productService, orderService, resolver)
	mux := http.NewServeMux()
	h.Register(mux)

	return &testEnv{mux: mux, products: products, orders: orders}
}

func (env *testEnv) do(t *testing.T, method, target, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)

	if w.Body.Len() == 0 {
		return w, nil
	}
	var decoded map[string]any
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w, decoded
}

const validPayload = `{
	"name": "PlayStation 5",
	"description": "Console with an SSD",
	"imgUrl": "ps5.jpg",
	"price": 3999.9,
	"categories": [{"id": 2}]
}`

// --- Tests ---

func TestGetProduct(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/products/2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "Smart TV", body["name"])
	assert.Equal(t, 2190.0, body["price"])
	assert.Equal(t, "https://img.example.com/2-big.jpg", body["imgUrl"])

	categories := body["categories"].([]any)
	require.Len(t, categories, 2)
	assert.Equal(t, "Eletrônicos", categories[0].(map[string]any)["name"])
}

func TestGetProduct_Errors(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/products/999", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "/products/999", body["path"])
	assert.Equal(t, float64(404), body["status"])

	w, _ = env.do(t, http.MethodGet, "/products/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.products.err = errors.New("connection refused")
	w, body = env.do(t, http.MethodGet, "/products/1", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "unexpected error", body["message"])
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestListProducts(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/products?name=MAC", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	content := body["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "Macbook Pro", content[0].(map[string]any)["name"])
	assert.Equal(t, float64(1), body["totalElements"])
	assert.Equal(t, float64(product.DefaultPageSize), body["size"])

	w, body = env.do(t, http.MethodGet, "/products?page=1&size=2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["content"], 1)
	assert.Equal(t, float64(2), body["totalPages"])
	assert.Equal(t, true, body["last"])
	assert.Equal(t, false, body["first"])

	w, _ = env.do(t, http.MethodGet, "/products?size=ten", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCategories(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/categories", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var categories []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &categories))
	require.Len(t, categories, 3)
	assert.Equal(t, "Computadores", categories[0]["name"])
}

func TestCreateProduct(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/products", adminToken, validPayload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/products/26", w.Header().Get("Location"))
	assert.Equal(t, float64(26), body["id"])
	assert.Equal(t, 3999.9, body["price"])
	assert.Equal(t, "Eletrônicos", body["categories"].([]any)[0].(map[string]any)["name"])
}

func TestCreateProduct_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		body   string
		status int
	}{
		{name: "no credential", token: "", body: validPayload, status: http.StatusUnauthorized},
		{name: "unknown credential", token: bogusHeader, body: validPayload, status: http.StatusUnauthorized},
		{name: "client role", token: mariaToken, body: validPayload, status: http.StatusForbidden},
		{name: "client role with invalid body", token: mariaToken, body: `{}`, status: http.StatusForbidden},
		{name: "unknown credential with malformed json", token: bogusHeader, body: `{"name":`, status: http.StatusUnauthorized},
		{name: "no credential with malformed json", token: "", body: `{"name":`, status: http.StatusUnauthorized},
		{name: "client role with malformed json", token: mariaToken, body: `{"name":`, status: http.StatusForbidden},
		{name: "client role with price as string", token: mariaToken, body: `{"price":"x"}`, status: http.StatusForbidden},
		{name: "token store down", token: storeDownHeader, body: validPayload, status: http.StatusInternalServerError},
		{name: "malformed json", token: adminToken, body: `{"name":`, status: http.StatusBadRequest},
		{name: "price as string", token: adminToken, body: `{"price":"10"}`, status: http.StatusBadRequest},
		{name: "empty object", token: adminToken, body: `{}`, status: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w, body := env.do(t, http.MethodPost, "/products", tt.token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, float64(tt.status), body["status"])
			assert.Len(t, env.products.products, 3)
		})
	}
}

func TestWrites_IdentityBeforeInput(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		token  string
		body   string
		status int
	}{
		{name: "update anonymous malformed body", method: http.MethodPut, target: "/products/2", body: `{"price":"x"}`, status: http.StatusUnauthorized},
		{name: "update bogus credential malformed body", method: http.MethodPut, target: "/products/2", token: bogusHeader, body: `{"price":"x"}`, status: http.StatusUnauthorized},
		{name: "update client malformed body", method: http.MethodPut, target: "/products/2", token: mariaToken, body: `{"price":"x"}`, status: http.StatusForbidden},
		{name: "update client bad id", method: http.MethodPut, target: "/products/x", token: mariaToken, body: validPayload, status: http.StatusForbidden},
		{name: "update admin bad id", method: http.MethodPut, target: "/products/x", token: adminToken, body: validPayload, status: http.StatusBadRequest},
		{name: "delete anonymous bad id", method: http.MethodDelete, target: "/products/x", status: http.StatusUnauthorized},
		{name: "delete client bad id", method: http.MethodDelete, target: "/products/x", token: mariaToken, status: http.StatusForbidden},
		{name: "order anonymous bad id", method: http.MethodGet, target: "/orders/x", status: http.StatusUnauthorized},
		{name: "order bogus credential bad id", method: http.MethodGet, target: "/orders/x", token: bogusHeader, status: http.StatusUnauthorized},
		{name: "order client bad id", method: http.MethodGet, target: "/orders/x", token: mariaToken, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w, body := env.do(t, tt.method, tt.target, tt.token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, float64(tt.status), body["status"])
			assert.Equal(t, "The Lord of the Rings", env.products.products[1].Name)
			assert.Len(t, env.products.products, 3)
		})
	}
}

func TestTokenStoreFailure(t *testing.T) {
	tests := []struct {
		method string
		target string
		body   string
	}{
		{method: http.MethodPost, target: "/products", body: validPayload},
		{method: http.MethodPut, target: "/products/1", body: validPayload},
		{method: http.MethodDelete, target: "/products/1"},
		{method: http.MethodGet, target: "/orders/1"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			env := newTestEnv(t)
			w, body := env.do(t, tt.method, tt.target, storeDownHeader, tt.body)
			assert.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())
			assert.Equal(t, "unexpected error", body["message"])
			assert.Contains(t, env.products.products, int64(1))
		})
	}
}

func TestCreateProduct_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/products", adminToken,
		`{"name":"PS","description":"","price":0,"categories":[]}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "invalid data", body["message"])

	fieldErrors := body["errors"].([]any)
	var fields []string
	for _, fe := range fieldErrors {
		fields = append(fields, fe.(map[string]any)["field"].(string))
	}
	assert.Equal(t, []string{
		product.FieldName,
		product.FieldDescription,
		product.FieldPrice,
		product.FieldCategories,
	}, fields)
	assert.Equal(t, product.MsgPricePositive, fieldErrors[2].(map[string]any)["message"])
}

func TestCreateProduct_UnknownCategory(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/products", adminToken, strings.Replace(validPayload, `"id": 2`, `"id": 99`, 1))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fieldErrors := body["errors"].([]any)
	require.Len(t, fieldErrors, 1)
	assert.Equal(t, product.FieldCategories, fieldErrors[0].(map[string]any)["field"])
}

func TestUpdateProduct(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPut, "/products/1", adminToken, validPayload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "PlayStation 5", env.products.products[1].Name)

	w, _ = env.do(t, http.MethodPut, "/products/999", adminToken, validPayload)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodPut, "/products/1", mariaToken, validPayload)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteProduct(t *testing.T) {
	tests := []struct {
		name   string
		target string
		token  string
		status int
	}{
		{name: "unreferenced", target: "/products/1", token: adminToken, status: http.StatusNoContent},
		{name: "missing", target: "/products/999", token: adminToken, status: http.StatusNotFound},
		{name: "referenced by order", target: "/products/3", token: adminToken, status: http.StatusBadRequest},
		{name: "client role", target: "/products/1", token: mariaToken, status: http.StatusForbidden},
		{name: "anonymous", target: "/products/1", token: "", status: http.StatusUnauthorized},
		{name: "bad id", target: "/products/x", token: adminToken, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w, _ := env.do(t, http.MethodDelete, tt.target, tt.token, "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestDeleteProduct_Twice(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodDelete, "/products/2", adminToken, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w, _ = env.do(t, http.MethodDelete, "/products/2", adminToken, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteProduct_Referenced(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodDelete, "/products/3", adminToken, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["message"], "integrity violation")
	assert.Contains(t, env.products.products, int64(3))
}

func TestGetOrder(t *testing.T) {
	tests := []struct {
		name   string
		target string
		token  string
		status int
	}{
		{name: "owner", target: "/orders/1", token: mariaToken, status: http.StatusOK},
		{name: "admin", target: "/orders/1", token: adminToken, status: http.StatusOK},
		{name: "other client", target: "/orders/1", token: bobToken, status: http.StatusForbidden},
		{name: "anonymous", target: "/orders/1", token: "", status: http.StatusUnauthorized},
		{name: "bad credential", target: "/orders/1", token: bogusHeader, status: http.StatusUnauthorized},
		{name: "missing as admin", target: "/orders/999", token: adminToken, status: http.StatusNotFound},
		{name: "missing as client", target: "/orders/999", token: mariaToken, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w, _ := env.do(t, http.MethodGet, tt.target, tt.token, "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestGetOrder_Body(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/orders/1", mariaToken, "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "PAID", body["status"])
	assert.Equal(t, "2022-07-25T13:00:00Z", body["moment"])
	assert.Equal(t, 1431.0, body["total"])
	assert.Equal(t, "Maria Brown", body["client"].(map[string]any)["name"])
	assert.Equal(t, "2022-07-25T15:00:00Z", body["payment"].(map[string]any)["moment"])

	items := body["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, float64(1), first["productId"])
	assert.Equal(t, 181.0, first["subTotal"])
	assert.Equal(t, "https://img.example.com/1-big.jpg", first["imgUrl"])

	w, body = env.do(t, http.MethodGet, "/orders/2", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["payment"])
	assert.Contains(t, body, "payment")
}

func TestGetOrder_StorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.orders.err = errors.New("pool closed")

	w, body := env.do(t, http.MethodGet, "/orders/1", mariaToken, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "unexpected error", body["message"])
}

func TestDecodePayload(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(
		`{"name":"X","price":null,"categories":[{"id":1,"name":"ignored"},{"id":3}],"extra":{"a":[1]}}`,
	))
	p, err := decodePayload(req)
	require.NoError(t, err)
	assert.Equal(t, "X", p.Name)
	assert.False(t, p.Price.Valid)
	assert.Equal(t, []int64{1, 3}, p.CategoryIDs)

	req = httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"categories":[{"name":"x"}]}`))
	_, err = decodePayload(req)
	require.ErrorIs(t, err, errBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`[]`))
	_, err = decodePayload(req)
	require.ErrorIs(t, err, errBadRequest)
}
