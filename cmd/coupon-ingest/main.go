// Command coupon-ingest loads coupon codes from gzip-compressed dump files
// into the coupons table. Only codes present in at least two dumps are
// trusted; per-dump bloom filters keep the cross-match memory-bounded.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/commercefull/platform-sub011/internal/storage/postgres"
)

const (
	filterCapacity = 120_000_000
	filterFPR      = 0.001
	dumpCount      = 3
	logEvery       = 10_000_000
	codeLenMin     = 8
	codeLenMax     = 10
)

// couponTemplate is the discount recorded for a recognized code. Codes
// without a template get defaultTemplate.
type couponTemplate struct {
	discountType   string
	value          string
	minOrderAmount string
	description    string
}

var knownCodes = map[string]couponTemplate{
	"FIFTYOFF": {discountType: "percentage", value: "50", minOrderAmount: "0", description: "50% off entire order"},
	"SIXTYOFF": {discountType: "percentage", value: "60", minOrderAmount: "0", description: "60% off entire order"},
	"GNULINUX": {discountType: "percentage", value: "15", minOrderAmount: "0", description: "Open source discount: 15% off"},
	"OVER9000": {discountType: "fixed", value: "9", minOrderAmount: "0", description: "$9 off your order"},
	"HAPPYHRS": {discountType: "percentage", value: "18", minOrderAmount: "20", description: "Happy Hours: 18% off"},
}

var defaultTemplate = couponTemplate{
	discountType:   "percentage",
	value:          "10",
	minOrderAmount: "0",
	description:    "Valid promo code: 10% off",
}

const upsertCouponSQL = `INSERT INTO coupons
	(code, description, discount_type, value, min_order_amount, active)
	VALUES ($1, $2, $3, $4, $5, TRUE)
	ON CONFLICT (UPPER(code)) DO UPDATE SET
		description = EXCLUDED.description,
		discount_type = EXCLUDED.discount_type,
		value = EXCLUDED.value,
		min_order_amount = EXCLUDED.min_order_amount,
		active = TRUE`

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz dumps")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("no database URL: pass --database-url or set DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("ingest done")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	dumps := make([]string, dumpCount)
	for i := range dumpCount {
		dumps[i] = filepath.Join(dataDir, fmt.Sprintf("couponbase%d.gz", i+1))
	}
	for _, d := range dumps {
		if _, err := os.Stat(d); err != nil {
			return errors.Wrapf(err, "stat %s", d)
		}
	}

	slog.Info("first pass: loading filters", slog.Int("dumps", dumpCount))

	filters, err := buildFilters(ctx, dumps)
	if err != nil {
		return errors.Wrap(err, "build filters")
	}

	slog.Info("second pass: cross-matching codes")

	codes, err := crossMatch(ctx, dumps, filters)
	if err != nil {
		return errors.Wrap(err, "cross-match codes")
	}

	slog.Info("trusted codes", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("nothing to insert")
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "migrate")
	}

	if err := upsertCodes(ctx, pool, codes); err != nil {
		return errors.Wrap(err, "upsert codes")
	}

	return nil
}

// buildFilters streams every dump once and fills one bloom filter per dump.
func buildFilters(ctx context.Context, dumps []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i, d := range dumps {
		g.Go(fillFilter(ctx, i, d, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func fillFilter(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(filterCapacity, filterFPR)
		var seen uint64

		if err := scanDump(ctx, path, func(code string) {
			if len(code) < codeLenMin || len(code) > codeLenMax {
				return
			}
			filter.AddString(code)
			seen++
			if seen%logEvery == 0 {
				slog.Info("filter progress",
					slog.Int("dump", idx+1),
					slog.Uint64("codes", seen),
				)
			}
		}); err != nil {
			return errors.Wrapf(err, "fill filter for dump %d", idx+1)
		}

		slog.Info("filter loaded",
			slog.Int("dump", idx+1),
			slog.Uint64("codes", seen),
		)

		filters[idx] = filter
		return nil
	}
}

// crossMatch streams every dump a second time, testing each code against the
// other dumps' filters, and keeps codes seen in two or more dumps.
func crossMatch(ctx context.Context, dumps []string, filters []*bloom.BloomFilter) ([]string, error) {
	perDump := make([]map[string]uint, len(dumps))

	g, ctx := errgroup.WithContext(ctx)
	for i, d := range dumps {
		g.Go(matchDump(ctx, i, d, filters, perDump))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// A code's mask has one bit per dump it matched in.
	merged := make(map[string]uint)
	for _, m := range perDump {
		for code, mask := range m {
			merged[code] |= mask
		}
	}

	var trusted []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			trusted = append(trusted, code)
		}
	}

	return trusted, nil
}

func matchDump(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	perDump []map[string]uint,
) func() error {
	return func() error {
		matches := make(map[string]uint)
		dumpBit := uint(1) << uint(idx)
		var seen uint64

		if err := scanDump(ctx, path, func(code string) {
			if len(code) < codeLenMin || len(code) > codeLenMax {
				return
			}

			seen++
			if seen%logEvery == 0 {
				slog.Info("match progress",
					slog.Int("dump", idx+1),
					slog.Uint64("codes", seen),
				)
			}

			for other, f := range filters {
				if other == idx {
					continue
				}
				if f.TestString(code) {
					matches[code] |= dumpBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "match dump %d", idx+1)
		}

		slog.Info("dump matched",
			slog.Int("dump", idx+1),
			slog.Uint64("codes", seen),
			slog.Int("matches", len(matches)),
		)

		perDump[idx] = matches
		return nil
	}
}

// scanDump calls fn with every line of a gzip-compressed dump.
func scanDump(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

func upsertCodes(ctx context.Context, pool *pgxpool.Pool, codes []string) error {
	slog.Info("writing coupons", slog.Int("count", len(codes)))

	for i, code := range codes {
		tmpl, ok := knownCodes[code]
		if !ok {
			tmpl = defaultTemplate
		}

		value, err := decimal.NewFromString(tmpl.value)
		if err != nil {
			return errors.Wrapf(err, "value for %s", code)
		}
		minOrder, err := decimal.NewFromString(tmpl.minOrderAmount)
		if err != nil {
			return errors.Wrapf(err, "min order for %s", code)
		}

		if _, err := pool.Exec(ctx, upsertCouponSQL,
			code, tmpl.description, tmpl.discountType, value, minOrder); err != nil {
			return errors.Wrapf(err, "upsert %s", code)
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}

	return nil
}
