package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/dscommerce/internal/domain/product"
	"github.com/xenking/dscommerce/internal/repository"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 10_000
	maxLineBytes  = 1 << 20
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing catalog dumps")
	flag.StringVar(&pattern, "pattern", "*.ndjson.gz", "glob of dump files inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "validate and deduplicate without inserting")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, filepath.Join(dataDir, pattern), databaseURL, dryRun); err != nil {
		slog.Error("catalog import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog import completed successfully")
}

func run(ctx context.Context, glob, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(glob)
	if err != nil {
		return errors.Wrapf(err, "match %s", glob)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", glob)
	}
	sort.Strings(files)

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	im := newImporter(repository.NewProductRepository(pool), dryRun)

	slog.Info("pass 1: loading existing product names")

	if err := im.prefill(ctx); err != nil {
		return errors.Wrap(err, "load existing names")
	}

	slog.Info("pass 2: parsing dumps", slog.Int("files", len(files)))

	batches, err := parseFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse dumps")
	}

	slog.Info("pass 3: inserting products")

	for _, b := range batches {
		im.stats.invalid += b.invalid
		if err := im.insert(ctx, b.records); err != nil {
			return errors.Wrapf(err, "insert records of %s", b.path)
		}
	}

	slog.Info("import summary",
		slog.Int("read", im.stats.read),
		slog.Int("invalid", im.stats.invalid),
		slog.Int("duplicate", im.stats.duplicate),
		slog.Int("inserted", im.stats.inserted),
		slog.Bool("dry_run", dryRun),
	)
	return nil
}

// catalogStore is the part of the product repository the import needs.
type catalogStore interface {
	Names(ctx context.Context, fn func(name string)) error
	ExistsByName(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, p *product.Product) error
}

type importStats struct {
	read      int
	invalid   int
	duplicate int
	inserted  int
}

// importer inserts records whose name is not yet in the catalog. The bloom
// filter holds stored names so that most new names skip the exact lookup.
type importer struct {
	store  catalogStore
	stored *bloom.BloomFilter
	added  map[string]struct{}
	dryRun bool
	stats  importStats
}

func newImporter(store catalogStore, dryRun bool) *importer {
	return &importer{
		store:  store,
		stored: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		added:  make(map[string]struct{}),
		dryRun: dryRun,
	}
}

func (im *importer) prefill(ctx context.Context) error {
	var count int
	if err := im.store.Names(ctx, func(name string) {
		im.stored.AddString(nameKey(name))
		count++
	}); err != nil {
		return err
	}
	slog.Info("pass 1 complete", slog.Int("names", count))
	return nil
}

func (im *importer) isDuplicate(ctx context.Context, name string) (bool, error) {
	key := nameKey(name)
	if _, ok := im.added[key]; ok {
		return true, nil
	}
	if !im.stored.TestString(key) {
		return false, nil
	}
	return im.store.ExistsByName(ctx, name)
}

func (im *importer) insert(ctx context.Context, records []product.Payload) error {
	for _, rec := range records {
		im.stats.read++

		dup, err := im.isDuplicate(ctx, rec.Name)
		if err != nil {
			return err
		}
		if dup {
			im.stats.duplicate++
			continue
		}

		if !im.dryRun {
			p := &product.Product{
				Name:        rec.Name,
				Description: rec.Description,
				ImgURL:      rec.ImgURL,
				Price:       rec.Price.Decimal,
				Active:      true,
			}
			for _, id := range rec.CategoryIDs {
				p.Categories = append(p.Categories, product.Category{ID: id})
			}
			if err := im.store.Create(ctx, p); err != nil {
				if errors.Is(err, product.ErrUnknownCategory) {
					slog.Debug("skipping record with unknown category", slog.String("name", rec.Name))
					im.stats.invalid++
					continue
				}
				return errors.Wrapf(err, "create %q", rec.Name)
			}
		}

		im.added[nameKey(rec.Name)] = struct{}{}
		im.stats.inserted++
		if im.stats.inserted%progressEvery == 0 {
			slog.Info("insert progress", slog.Int("inserted", im.stats.inserted))
		}
	}
	return nil
}

// fileBatch holds the valid records of one dump in file order.
type fileBatch struct {
	path    string
	records []product.Payload
	invalid int
}

// parseFiles decodes and validates every dump concurrently. Batches keep the
// order of files.
func parseFiles(ctx context.Context, files []string) ([]fileBatch, error) {
	batches := make([]fileBatch, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			b, err := parseFile(ctx, path)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			batches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batches, nil
}

func parseFile(ctx context.Context, path string) (fileBatch, error) {
	b := fileBatch{path: path}

	var line int
	err := streamGzFile(ctx, path, func(raw []byte) {
		line++
		if len(raw) == 0 {
			return
		}
		rec, err := parseRecord(raw)
		if err != nil {
			slog.Debug("skipping malformed record",
				slog.String("file", path), slog.Int("line", line), slog.String("error", err.Error()))
			b.invalid++
			return
		}
		if violations := product.Validate(rec); len(violations) > 0 {
			slog.Debug("skipping invalid record",
				slog.String("file", path), slog.Int("line", line),
				slog.String("field", violations[0].Field), slog.String("message", violations[0].Message))
			b.invalid++
			return
		}
		b.records = append(b.records, rec)
	})
	if err != nil {
		return fileBatch{}, err
	}

	slog.Info("pass 2 complete",
		slog.String("file", path),
		slog.Int("lines", line),
		slog.Int("valid", len(b.records)),
		slog.Int("invalid", b.invalid),
	)
	return b, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line. The
// slice passed to fn is only valid until fn returns.
func streamGzFile(ctx context.Context, path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
