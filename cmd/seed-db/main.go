package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/giftbox/internal/domain/product"
	"github.com/xenking/giftbox/internal/domain/promo"
	"github.com/xenking/giftbox/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("GIFTBOX_DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile string) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}
	products, err := parseProducts(data)
	if err != nil {
		return errors.Wrap(err, "parse products")
	}

	repo := postgres.NewProductRepository(pool)
	for i := range products {
		p := &products[i]
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Info("Upserted product", zap.String("id", p.ID), zap.String("price_usd", p.PriceUSD.StringFixed(2)))
	}

	inserted, err := postgres.NewPromoRepository(pool).Import(ctx, demoPromos(time.Now()))
	if err != nil {
		return errors.Wrap(err, "seed promo codes")
	}
	lg.Info("Seeded promo codes", zap.Int64("inserted", inserted))
	return nil
}

// parseProducts decodes the seed file. Prices may be numbers or strings.
func parseProducts(data []byte) ([]product.Product, error) {
	var products []product.Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p := product.Product{Status: product.StatusActive}
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "description":
				p.Description, err = d.Str()
			case "price":
				p.PriceUSD, err = decodePrice(d)
			case "stock":
				p.Stock, err = d.Int()
			case "status":
				var s string
				s, err = d.Str()
				p.Status = product.Status(s)
			case "imageUrl":
				p.ImageURL, err = d.Str()
			default:
				err = d.Skip()
			}
			return errors.Wrap(err, key)
		}); err != nil {
			return err
		}
		if err := product.Validate(&p); err != nil {
			return err
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return products, nil
}

func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}

func demoPromos(now time.Time) []promo.Code {
	holidayEnd := time.Date(now.Year(), time.December, 31, 23, 59, 59, 0, time.UTC)
	holidayLimit := 100
	welcomeLimit := 1000
	return []promo.Code{
		{
			Code:        "SAVE10",
			Kind:        promo.KindPercentage,
			Value:       decimal.NewFromInt(10),
			Active:      true,
			Description: "10% off any order",
		},
		{
			Code:        "WELCOME5",
			Kind:        promo.KindFixed,
			Value:       decimal.NewFromInt(5),
			MinOrderUSD: decimal.NewFromInt(25),
			UsageLimit:  &welcomeLimit,
			Active:      true,
			Description: "$5 off orders of $25 or more",
		},
		{
			Code:        "HOLIDAY20",
			Kind:        promo.KindPercentage,
			Value:       decimal.NewFromInt(20),
			MinOrderUSD: decimal.NewFromInt(50),
			ExpiresAt:   &holidayEnd,
			UsageLimit:  &holidayLimit,
			Active:      true,
			Description: "Holiday season: 20% off orders of $50 or more",
		},
	}
}
