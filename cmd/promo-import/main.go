// Command promo-import bulk-loads promo codes from gzip-compressed code
// lists. A code becomes active when it appears in at least two lists.
package main

import (
	"bufio"
	"context"
	"flag"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/giftbox/internal/domain/promo"
	"github.com/xenking/giftbox/internal/storage/postgres"
)

const (
	progressEvery = 10_000_000
	batchSize     = 1000
	minLists      = 2
	maxLists      = bits.UintSize
)

type options struct {
	capacity   uint
	fpr        float64
	minCodeLen int
	maxCodeLen int
}

func main() {
	var (
		dataDir     string
		databaseURL string
		kind        string
		value       string
		minOrder    string
		usageLimit  int
		opts        options
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.gz code lists")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&kind, "kind", string(promo.KindPercentage), "discount kind of imported codes (percentage or fixed)")
	flag.StringVar(&value, "value", "10", "discount value of imported codes")
	flag.StringVar(&minOrder, "min-order-usd", "0", "minimum subtotal for imported codes")
	flag.IntVar(&usageLimit, "usage-limit", 1, "uses per imported code, 0 for unlimited")
	flag.UintVar(&opts.capacity, "bloom-capacity", 120_000_000, "expected codes per list")
	flag.Float64Var(&opts.fpr, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&opts.minCodeLen, "min-len", 8, "shortest accepted code")
	flag.IntVar(&opts.maxCodeLen, "max-len", 10, "longest accepted code")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	rule, err := makeRule(kind, value, minOrder, usageLimit)
	if err != nil {
		lg.Fatal("Invalid rule", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, dataDir, databaseURL, rule, opts); err != nil {
		lg.Fatal("Promo import failed", zap.Error(err))
	}
	lg.Info("Promo import completed")
}

// makeRule builds the template every imported code is created from.
func makeRule(kind, value, minOrder string, usageLimit int) (promo.Code, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return promo.Code{}, errors.Wrap(err, "parse value")
	}
	m, err := decimal.NewFromString(minOrder)
	if err != nil {
		return promo.Code{}, errors.Wrap(err, "parse min order")
	}
	rule := promo.Code{
		Code:        "TEMPLATE",
		Kind:        promo.Kind(kind),
		Value:       v,
		MinOrderUSD: m,
		Active:      true,
		Description: "Imported promo code",
	}
	if usageLimit > 0 {
		rule.UsageLimit = &usageLimit
	}
	if err := promo.Check(&rule); err != nil {
		return promo.Code{}, err
	}
	return rule, nil
}

func run(ctx context.Context, lg *zap.Logger, dataDir, databaseURL string, rule promo.Code, opts options) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list code files")
	}
	if len(files) < minLists {
		return errors.Errorf("need at least %d code lists in %s, found %d", minLists, dataDir, len(files))
	}
	if len(files) > maxLists {
		return errors.Errorf("at most %d code lists are supported, found %d", maxLists, len(files))
	}

	codes, err := findCodes(ctx, lg, files, opts)
	if err != nil {
		return err
	}
	lg.Info("Codes found", zap.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := postgres.NewPromoRepository(pool)
	var inserted int64
	for start := 0; start < len(codes); start += batchSize {
		batch := buildBatch(codes[start:min(start+batchSize, len(codes))], rule)
		n, err := repo.Import(ctx, batch)
		if err != nil {
			return errors.Wrap(err, "import promo codes")
		}
		inserted += n
		lg.Info("Import progress",
			zap.Int("processed", start+len(batch)),
			zap.Int("total", len(codes)),
			zap.Int64("inserted", inserted),
		)
	}
	return nil
}

// findCodes runs two passes: one bloom filter per list, then every list is
// re-read and checked against the other lists' filters.
func findCodes(ctx context.Context, lg *zap.Logger, files []string, opts options) ([]string, error) {
	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := buildBloomFilters(ctx, lg, files, opts)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Pass 2: finding candidate codes")
	codes, err := findValidCodes(ctx, lg, files, filters, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find valid codes")
	}
	return codes, nil
}

func buildBloomFilters(ctx context.Context, lg *zap.Logger, files []string, opts options) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.capacity, opts.fpr)
			var count uint64
			if err := streamGzFile(ctx, path, func(code string) {
				if !opts.accept(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					lg.Info("Pass 1 progress", zap.String("file", path), zap.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			lg.Info("Pass 1 complete", zap.String("file", path), zap.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findValidCodes marks each code with a bit per list it was seen in. Bloom
// hits only make a code a candidate; it must then be seen in at least two
// lists during this exact pass.
func findValidCodes(ctx context.Context, lg *zap.Logger, files []string, filters []*bloom.BloomFilter, opts options) ([]string, error) {
	results := make([]map[string]uint, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)
			var count uint64
			if err := streamGzFile(ctx, path, func(code string) {
				if !opts.accept(code) {
					return
				}
				count++
				if count%progressEvery == 0 {
					lg.Info("Pass 2 progress", zap.String("file", path), zap.Uint64("codes", count))
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= fileBit
						return
					}
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s for candidates", path)
			}
			lg.Info("Pass 2 complete",
				zap.String("file", path),
				zap.Uint64("codes", count),
				zap.Int("candidates", len(candidates)),
			)
			results[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}
	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= minLists {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

func (o options) accept(code string) bool {
	return len(code) >= o.minCodeLen && len(code) <= o.maxCodeLen
}

// streamGzFile calls fn with each normalized, non-empty line of a
// gzip-compressed file.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
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
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if code := promo.Normalize(scanner.Text()); code != "" {
			fn(code)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

func buildBatch(codes []string, rule promo.Code) []promo.Code {
	batch := make([]promo.Code, len(codes))
	for i, code := range codes {
		c := rule
		c.Code = code
		batch[i] = c
	}
	return batch
}
