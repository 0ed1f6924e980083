package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-datastore-cache/cache"
	"github.com/goliatone/go-datastore-cache/pkg/memds"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const demoKind = "User"

type demoOptions struct {
	users int
	ttl   time.Duration
}

func (a *App) newDemoCmd() *cobra.Command {
	opts := &demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Seed a datastore and read it through the cache",
		Long: `Seed an in-memory datastore with users, then read them twice by key and
twice through a query, write one user and read again. Every step reports how
many reads reached the datastore.

Examples:
  dscache demo
  dscache demo --users 20 --redis-addr localhost:6379
  dscache demo -c cache.yaml --ttl 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDemo(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVar(&opts.users, "users", 5, "number of users to seed")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "TTL override for every read")
	return cmd
}

func (a *App) runDemo(ctx context.Context, opts *demoOptions) error {
	if opts.users < 1 {
		return fmt.Errorf("--users must be at least 1")
	}

	overlay, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := a.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	stores, closeStores, err := a.stores(ctx)
	if err != nil {
		return err
	}
	defer closeStores()

	ds := memds.New(memds.WithLogger(logger))
	c, err := memds.NewCache(ds, stores, overlay, logger)
	if err != nil {
		return err
	}
	if !c.Config().WrapsClient() {
		return fmt.Errorf("demo needs wrapClient enabled")
	}

	keys := make([]memds.Key, opts.users)
	for i := range keys {
		keys[i] = memds.Key{Kind: demoKind, Name: uuid.NewString()}
		role := "member"
		if i%2 == 0 {
			role = "admin"
		}
		if err := ds.Put(ctx, keys[i], map[string]any{"role": role, "seq": i}); err != nil {
			return err
		}
	}

	var readOpts []cache.Option
	if opts.ttl > 0 {
		readOpts = append(readOpts, cache.WithTTL(opts.ttl))
	}

	names := make([]string, len(stores))
	for i, s := range stores {
		names[i] = s.Name()
	}
	fmt.Fprintf(a.stdout, "stores: %s\n", strings.Join(names, ", "))

	for pass := 1; pass <= 2; pass++ {
		entities, err := c.Keys().Read(ctx, keys, nil, readOpts...)
		if err != nil && !cache.IsWriteFailed(err) {
			return err
		}
		a.report(ds, fmt.Sprintf("get %d users (pass %d)", countFound(entities), pass))
	}

	admins := memds.Query{Kind: demoKind, Filters: []memds.Filter{{Field: "role", Value: "admin"}}}
	for pass := 1; pass <= 2; pass++ {
		result, err := c.Queries().Read(ctx, admins, nil, readOpts...)
		if err != nil && !cache.IsWriteFailed(err) {
			return err
		}
		a.report(ds, fmt.Sprintf("query %d admins (pass %d)", len(result.Entities), pass))
	}

	if err := ds.Put(ctx, keys[0], map[string]any{"role": "member", "seq": 0}); err != nil {
		return err
	}
	a.report(ds, fmt.Sprintf("demote %s", keys[0].Name))
	if _, ok := c.TransactionalStore(); !ok {
		fmt.Fprintln(a.stdout, "no redis store: cached queries expire by TTL only")
	}

	result, err := c.Queries().Read(ctx, admins, nil, readOpts...)
	if err != nil && !cache.IsWriteFailed(err) {
		return err
	}
	a.report(ds, fmt.Sprintf("query %d admins", len(result.Entities)))
	return nil
}

func (a *App) report(ds *memds.Datastore, step string) {
	stats := ds.Stats()
	fmt.Fprintf(a.stdout, "%-40s datastore gets=%d queries=%d\n", step, stats.Gets, stats.Queries)
}

func countFound(entities []*memds.Entity) int {
	n := 0
	for _, e := range entities {
		if e != nil {
			n++
		}
	}
	return n
}
