package repository

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dscommerce/internal/domain/product"
)

// foreignKeyViolation is the PostgreSQL SQLSTATE for a rejected FK reference.
const foreignKeyViolation = "23503"

const (
	countProductsSQL = `SELECT COUNT(*) FROM products
		WHERE STRPOS(LOWER(name), LOWER($1)) > 0`

	listProductsSQL = `SELECT id, name, description, img_url, price, active
		FROM products
		WHERE STRPOS(LOWER(name), LOWER($1)) > 0
		ORDER BY id
		LIMIT $2 OFFSET $3`

	getProductByIDSQL = `SELECT id, name, description, img_url, price, active
		FROM products WHERE id = $1`

	listProductCategoriesSQL = `SELECT pc.product_id, c.id, c.name
		FROM product_categories pc
		JOIN categories c ON c.id = pc.category_id
		WHERE pc.product_id = ANY($1)
		ORDER BY pc.product_id, c.id`

	getCategoriesByIDsSQL = `SELECT id, name FROM categories WHERE id = ANY($1) ORDER BY id`

	listCategoriesSQL = `SELECT id, name FROM categories ORDER BY id`

	insertProductSQL = `INSERT INTO products (name, description, img_url, price, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	updateProductSQL = `UPDATE products
		SET name = $2, description = $3, img_url = $4, price = $5, active = $6
		WHERE id = $1`

	deleteProductCategoriesSQL = `DELETE FROM product_categories WHERE product_id = $1`

	insertProductCategoriesSQL = `INSERT INTO product_categories (product_id, category_id)
		SELECT $1, UNNEST($2::BIGINT[])`

	deleteProductSQL = `DELETE FROM products WHERE id = $1`

	productExistsByNameSQL = `SELECT EXISTS (SELECT 1 FROM products WHERE LOWER(name) = LOWER($1))`

	listProductNamesSQL = `SELECT name FROM products`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns one page of products whose name contains params.Name,
// case-insensitively, ordered by id.
func (r *ProductRepository) List(ctx context.Context, params product.ListParams) (product.Page, error) {
	page := product.Page{Number: params.Page, Size: params.Size}

	err := pgx.BeginTxFunc(ctx, r.pool, readOnlySnapshot, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, countProductsSQL, params.Name).Scan(&page.TotalElements); err != nil {
			return fmt.Errorf("counting products: %w", err)
		}

		rows, err := tx.Query(ctx, listProductsSQL, params.Name, params.Size, params.Page*params.Size)
		if err != nil {
			return fmt.Errorf("listing products: %w", err)
		}
		products, err := pgx.CollectRows(rows, scanProduct)
		if err != nil {
			return fmt.Errorf("listing products: %w", err)
		}

		if err := attachCategories(ctx, tx, products); err != nil {
			return err
		}
		page.Content = products
		return nil
	})
	if err != nil {
		return product.Page{}, err
	}
	return page, nil
}

// GetByID returns a single product with its categories.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	products := []product.Product{p}
	if err := attachCategories(ctx, r.pool, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

// Create inserts the product and its category links in one transaction and
// assigns the generated id.
func (r *ProductRepository) Create(ctx context.Context, p *product.Product) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		cats, err := resolveCategories(ctx, tx, p.CategoryIDs())
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, insertProductSQL,
			p.Name, p.Description, p.ImgURL, p.Price, p.Active,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("inserting product: %w", err)
		}

		if err := linkCategories(ctx, tx, p.ID, cats); err != nil {
			return err
		}
		p.Categories = cats
		return nil
	})
}

// Update rewrites the product row and replaces its category links in one
// transaction.
func (r *ProductRepository) Update(ctx context.Context, p *product.Product) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateProductSQL,
			p.ID, p.Name, p.Description, p.ImgURL, p.Price, p.Active,
		)
		if err != nil {
			return fmt.Errorf("updating product %d: %w", p.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return product.ErrNotFound
		}

		cats, err := resolveCategories(ctx, tx, p.CategoryIDs())
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteProductCategoriesSQL, p.ID); err != nil {
			return fmt.Errorf("unlinking categories of product %d: %w", p.ID, err)
		}
		if err := linkCategories(ctx, tx, p.ID, cats); err != nil {
			return err
		}
		p.Categories = cats
		return nil
	})
}

// Delete removes the product in a single statement. Category links cascade;
// order items restrict, so a referenced product is left untouched and
// product.ErrIntegrityViolation is returned.
func (r *ProductRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteProductSQL, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return product.ErrIntegrityViolation
		}
		return fmt.Errorf("deleting product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

// ListCategories returns every category ordered by id.
func (r *ProductRepository) ListCategories(ctx context.Context) ([]product.Category, error) {
	rows, err := r.pool.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return pgx.CollectRows(rows, scanCategory)
}

// ExistsByName reports whether a product with the given name exists,
// ignoring case.
func (r *ProductRepository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, productExistsByNameSQL, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking product name %q: %w", name, err)
	}
	return exists, nil
}

// Names streams every stored product name to fn.
func (r *ProductRepository) Names(ctx context.Context, fn func(name string)) error {
	rows, err := r.pool.Query(ctx, listProductNamesSQL)
	if err != nil {
		return fmt.Errorf("listing product names: %w", err)
	}
	var name string
	_, err = pgx.ForEachRow(rows, []any{&name}, func() error {
		fn(name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing product names: %w", err)
	}
	return nil
}

var readOnlySnapshot = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// attachCategories loads the categories of products with one query.
func attachCategories(ctx context.Context, q querier, products []product.Product) error {
	if len(products) == 0 {
		return nil
	}

	ids := make([]int64, len(products))
	index := make(map[int64]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := q.Query(ctx, listProductCategoriesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing product categories: %w", err)
	}
	var (
		productID int64
		c         product.Category
	)
	_, err = pgx.ForEachRow(rows, []any{&productID, &c.ID, &c.Name}, func() error {
		i := index[productID]
		products[i].Categories = append(products[i].Categories, c)
		return nil
	})
	if err != nil {
		return fmt.Errorf("listing product categories: %w", err)
	}
	return nil
}

// resolveCategories loads the distinct categories for ids and fails with
// product.ErrUnknownCategory if any of them is missing.
func resolveCategories(ctx context.Context, tx pgx.Tx, ids []int64) ([]product.Category, error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	rows, err := tx.Query(ctx, getCategoriesByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving categories: %w", err)
	}
	cats, err := pgx.CollectRows(rows, scanCategory)
	if err != nil {
		return nil, fmt.Errorf("resolving categories: %w", err)
	}
	if len(cats) != len(ids) {
		return nil, product.ErrUnknownCategory
	}
	return cats, nil
}

func linkCategories(ctx context.Context, tx pgx.Tx, productID int64, cats []product.Category) error {
	ids := make([]int64, len(cats))
	for i, c := range cats {
		ids[i] = c.ID
	}
	if _, err := tx.Exec(ctx, insertProductCategoriesSQL, productID, ids); err != nil {
		if isForeignKeyViolation(err) {
			return product.ErrUnknownCategory
		}
		return fmt.Errorf("linking categories of product %d: %w", productID, err)
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == foreignKeyViolation
	}
	return false
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.ImgURL, &p.Price, &p.Active)
	return p, err
}

func scanCategory(row pgx.CollectableRow) (product.Category, error) {
	var c product.Category
	err := row.Scan(&c.ID, &c.Name)
	return c, err
}
