package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/dscommerce/internal/domain/auth"
	"github.com/xenking/dscommerce/internal/repository"
)

type catalogFile struct {
	Categories []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"categories"`
	Products []struct {
		ID          int64           `json:"id"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Price       decimal.Decimal `json:"price"`
		ImgURL      string          `json:"imgUrl"`
		Categories  []int64         `json:"categories"`
	} `json:"products"`
	Users []struct {
		ID        int64    `json:"id"`
		Name      string   `json:"name"`
		Email     string   `json:"email"`
		Phone     string   `json:"phone"`
		BirthDate string   `json:"birthDate"`
		Roles     []string `json:"roles"`
	} `json:"users"`
	Orders []struct {
		ID       int64      `json:"id"`
		Moment   time.Time  `json:"moment"`
		Status   string     `json:"status"`
		ClientID int64      `json:"clientId"`
		PaidAt   *time.Time `json:"paidAt"`
		Items    []struct {
			ProductID int64           `json:"productId"`
			Quantity  int             `json:"quantity"`
			Price     decimal.Decimal `json:"price"`
		} `json:"items"`
	} `json:"orders"`
}

// tokenFlags collects repeated -token email=secret pairs.
type tokenFlags map[string]string

func (t tokenFlags) String() string { return "" }

func (t tokenFlags) Set(v string) error {
	email, token, ok := strings.Cut(v, "=")
	if !ok || email == "" || token == "" {
		return errors.Errorf("expected email=token, got %q", v)
	}
	t[email] = token
	return nil
}

func main() {
	var (
		databaseURL string
		catalogPath string
		pepper      string
		tokenTTL    time.Duration
		tokens      = tokenFlags{}
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogPath, "catalog-file", "db/seed/catalog.json", "path to the reference catalog JSON file")
	flag.StringVar(&pepper, "token-pepper", "", "HMAC pepper for access token hashing (or DSCOMMERCE_TOKEN_PEPPER env)")
	flag.DurationVar(&tokenTTL, "token-ttl", 0, "lifetime of seeded tokens, 0 for no expiry")
	flag.Var(tokens, "token", "access token to seed as email=token, repeatable")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if pepper == "" {
		pepper = os.Getenv("DSCOMMERCE_TOKEN_PEPPER")
	}
	if len(tokens) > 0 && pepper == "" {
		slog.Error("token pepper is required to seed tokens: set --token-pepper or DSCOMMERCE_TOKEN_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogPath, []byte(pepper), tokens, tokenTTL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogPath string, pepper []byte, tokens tokenFlags, ttl time.Duration) error {
	slog.Info("reading catalog file", slog.String("path", catalogPath))

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogFile
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return seedCatalog(ctx, tx, &catalog)
	}); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedTokens(ctx, pool, &catalog, pepper, tokens, ttl); err != nil {
		return errors.Wrap(err, "seed tokens")
	}

	return nil
}

func seedCatalog(ctx context.Context, tx pgx.Tx, c *catalogFile) error {
	for _, cat := range c.Categories {
		if _, err := tx.Exec(ctx,
			`INSERT INTO categories (id, name) VALUES ($1, $2)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
			cat.ID, cat.Name,
		); err != nil {
			return errors.Wrapf(err, "upsert category %d", cat.ID)
		}
	}
	slog.Info("upserted categories", slog.Int("count", len(c.Categories)))

	for _, p := range c.Products {
		if _, err := tx.Exec(ctx,
			`INSERT INTO products (id, name, description, img_url, price, active)
			 VALUES ($1, $2, $3, $4, $5, TRUE)
			 ON CONFLICT (id) DO UPDATE SET
			     name = EXCLUDED.name, description = EXCLUDED.description,
			     img_url = EXCLUDED.img_url, price = EXCLUDED.price, active = TRUE`,
			p.ID, p.Name, p.Description, p.ImgURL, p.Price,
		); err != nil {
			return errors.Wrapf(err, "upsert product %d", p.ID)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM product_categories WHERE product_id = $1`, p.ID,
		); err != nil {
			return errors.Wrapf(err, "reset categories of product %d", p.ID)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO product_categories (product_id, category_id)
			 SELECT $1, UNNEST($2::BIGINT[])`,
			p.ID, p.Categories,
		); err != nil {
			return errors.Wrapf(err, "link categories of product %d", p.ID)
		}
	}
	slog.Info("upserted products", slog.Int("count", len(c.Products)))

	for _, u := range c.Users {
		var birth *time.Time
		if u.BirthDate != "" {
			d, err := time.Parse(time.DateOnly, u.BirthDate)
			if err != nil {
				return errors.Wrapf(err, "parse birth date of user %d", u.ID)
			}
			birth = &d
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO users (id, name, email, phone, birth_date) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET
			     name = EXCLUDED.name, email = EXCLUDED.email,
			     phone = EXCLUDED.phone, birth_date = EXCLUDED.birth_date`,
			u.ID, u.Name, u.Email, u.Phone, birth,
		); err != nil {
			return errors.Wrapf(err, "upsert user %d", u.ID)
		}
		for _, role := range u.Roles {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				u.ID, role,
			); err != nil {
				return errors.Wrapf(err, "grant %s to user %d", role, u.ID)
			}
		}
	}
	slog.Info("upserted users", slog.Int("count", len(c.Users)))

	for _, o := range c.Orders {
		if _, err := tx.Exec(ctx,
			`INSERT INTO orders (id, moment, status, client_id) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET
			     moment = EXCLUDED.moment, status = EXCLUDED.status, client_id = EXCLUDED.client_id`,
			o.ID, o.Moment, o.Status, o.ClientID,
		); err != nil {
			return errors.Wrapf(err, "upsert order %d", o.ID)
		}
		for _, item := range o.Items {
			if _, err := tx.Exec(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, price) VALUES ($1, $2, $3, $4)
				 ON CONFLICT (order_id, product_id) DO UPDATE SET
				     quantity = EXCLUDED.quantity, price = EXCLUDED.price`,
				o.ID, item.ProductID, item.Quantity, item.Price,
			); err != nil {
				return errors.Wrapf(err, "upsert item %d of order %d", item.ProductID, o.ID)
			}
		}
		if o.PaidAt != nil {
			if _, err := tx.Exec(ctx,
				`INSERT INTO payments (order_id, moment) VALUES ($1, $2)
				 ON CONFLICT (order_id) DO UPDATE SET moment = EXCLUDED.moment`,
				o.ID, *o.PaidAt,
			); err != nil {
				return errors.Wrapf(err, "upsert payment of order %d", o.ID)
			}
		}
	}
	slog.Info("upserted orders", slog.Int("count", len(c.Orders)))

	// Explicit ids leave the sequences behind.
	for _, table := range []string{"categories", "products", "users", "orders"} {
		if _, err := tx.Exec(ctx,
			`SELECT setval(pg_get_serial_sequence('`+table+`', 'id'), GREATEST((SELECT MAX(id) FROM `+table+`), 1))`,
		); err != nil {
			return errors.Wrapf(err, "advance %s sequence", table)
		}
	}
	return nil
}

func seedTokens(ctx context.Context, pool *pgxpool.Pool, c *catalogFile, pepper []byte, tokens tokenFlags, ttl time.Duration) error {
	if len(tokens) == 0 {
		slog.Info("no access tokens requested")
		return nil
	}

	userIDs := make(map[string]int64, len(c.Users))
	for _, u := range c.Users {
		userIDs[u.Email] = u.ID
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	repo := repository.NewTokenRepository(pool)
	for email, token := range tokens {
		id, ok := userIDs[email]
		if !ok {
			return errors.Errorf("no seeded user with email %q", email)
		}
		if err := repo.Upsert(ctx, auth.HashToken(pepper, token), id, expiresAt); err != nil {
			return err
		}
		slog.Info("seeded access token", slog.String("email", email), slog.Int64("user_id", id))
	}
	return nil
}
