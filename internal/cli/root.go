package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	catalogapp "github.com/dmehra2102/lumina-commerce/internal/catalog/application"
	"github.com/dmehra2102/lumina-commerce/internal/currency"
	"github.com/dmehra2102/lumina-commerce/internal/livecache"
	"github.com/dmehra2102/lumina-commerce/internal/platform/config"
	salesapp "github.com/dmehra2102/lumina-commerce/internal/sales/application"
	"github.com/dmehra2102/lumina-commerce/internal/store"
	"github.com/dmehra2102/lumina-commerce/internal/store/postgres"
	"github.com/dmehra2102/lumina-commerce/pkg/logging"
	"github.com/dmehra2102/lumina-commerce/pkg/outbox"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	PGURL    string
	Format   string
	Currency string
	Timeout  time.Duration
}

var ValidFormats = []string{"text", "json"}

// Session is one terminal's connection to shared state. Close releases the
// live cache subscriptions and the store connection.
type Session struct {
	Store      store.Store
	Cache      *livecache.Cache
	Sales      *salesapp.Service
	Catalog    *catalogapp.Service
	Currencies *currency.Table
	Location   *time.Location

	closers []func()
}

func (s *Session) Close() {
	_ = s.Cache.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// NewSession starts a live cache on st and waits for the first snapshot of
// every collection.
func NewSession(ctx context.Context, log *slog.Logger, st store.Store, events outbox.Recorder, cfg config.Config) (*Session, error) {
	table, err := cfg.CurrencyTable()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	policy, err := salesapp.ParseShortfallPolicy(cfg.ShortfallPolicy)
	if err != nil {
		return nil, err
	}

	cache := livecache.New(log, st)
	if err := cache.Start(ctx); err != nil {
		return nil, err
	}
	if err := cache.WaitReady(ctx); err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("waiting for live cache: %w", err)
	}

	retry := cfg.RetryPolicy()
	return &Session{
		Store: st,
		Cache: cache,
		Sales: salesapp.NewService(log, st, cache, cache, events,
			salesapp.WithMaxAttempts(retry.MaxAttempts),
			salesapp.WithBackoff(retry.Backoff),
			salesapp.WithShortfallPolicy(policy),
			salesapp.WithReconcileTimeout(cfg.ReconcileTimeout),
		),
		Catalog:    catalogapp.NewService(log, st, retry),
		Currencies: table,
		Location:   loc,
	}, nil
}

// Opener connects a command to the store.
type Opener func(ctx context.Context, opts *RootOptions) (*Session, error)

func openPostgres(ctx context.Context, opts *RootOptions) (*Session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.PGURL != "" {
		cfg.PGURL = opts.PGURL
	}
	log := logging.Discard()

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	sess, err := NewSession(ctx, log, postgres.NewStore(log, pool), postgres.NewOutboxStore(log, pool), cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	sess.closers = append(sess.closers, pool.Close)
	return sess, nil
}

// NewRootCommand creates the commercectl command tree backed by postgres.
func NewRootCommand() *cobra.Command {
	return newRootCommand(openPostgres)
}

func newRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "commercectl",
		Short:         "Operate the shared storefront and POS state",
		Long:          "commercectl rings up POS sales, ships online orders, edits stock and reads the live dashboard.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.PGURL, "pg-url", "", "postgres url (defaults to PG_URL)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Currency, "currency", "", "display currency code")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "overall command timeout")

	cmd.AddCommand(newPOSCommand(opts, open))
	cmd.AddCommand(newShipCommand(opts, open))
	cmd.AddCommand(newPendingCommand(opts, open))
	cmd.AddCommand(newDashboardCommand(opts, open))
	cmd.AddCommand(newCustomersCommand(opts, open))
	cmd.AddCommand(newStockCommand(opts, open))
	cmd.AddCommand(newWatchCommand(opts, open))

	return cmd
}

// withSession runs fn with a session that is closed on every exit path.
func withSession(cmd *cobra.Command, opts *RootOptions, open Opener, fn func(ctx context.Context, s *Session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	s, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func (o *RootOptions) currencyCode(s *Session) string {
	if o.Currency != "" {
		return o.Currency
	}
	return s.Currencies.Default().Code
}

// emit writes v as indented JSON, or the text rendering when the format is text.
func emit(w io.Writer, opts *RootOptions, v any, text func(io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
