package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ruteri/s3-resource-publisher/awsclient"
	"github.com/ruteri/s3-resource-publisher/catalog"
	"github.com/ruteri/s3-resource-publisher/cdn"
	"github.com/ruteri/s3-resource-publisher/config"
	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/ruteri/s3-resource-publisher/manager"
	"github.com/ruteri/s3-resource-publisher/metrics"
	"github.com/ruteri/s3-resource-publisher/storage"
	"github.com/ruteri/s3-resource-publisher/target"
)

// memoryCatalog selects the in-process catalog instead of a bbolt file.
const memoryCatalog = ":memory:"

const initializeTimeout = 2 * time.Minute

type initializer interface {
	Initialize(ctx context.Context, timeout time.Duration) error
}

// application is the wired object graph behind every command.
type application struct {
	manager *manager.Manager
	closers []func() error
	log     *slog.Logger
}

func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// newApplication builds catalog, stores, targets and the manager from cfg.
// Clients for one AWS configuration are created once and shared.
func newApplication(ctx context.Context, cfg *config.Config, newClients storage.ClientsFunc, m *metrics.Metrics, log *slog.Logger) (_ *application, err error) {
	if newClients == nil {
		newClients = func(c awsclient.Config) (*awsclient.Clients, error) {
			return awsclient.New(c, log)
		}
	}
	clientCache := make(map[awsclient.Config]*awsclient.Clients)
	cachedClients := func(c awsclient.Config) (*awsclient.Clients, error) {
		if clients, ok := clientCache[c]; ok {
			return clients, nil
		}
		clients, err := newClients(c)
		if err != nil {
			return nil, err
		}
		clientCache[c] = clients
		return clients, nil
	}

	app := &application{log: log}
	defer func() {
		if err != nil {
			if closeErr := app.Close(); closeErr != nil {
				log.Warn("Failed to release resources after setup error", "err", closeErr)
			}
		}
	}()

	var cat interfaces.Catalog
	if cfg.Catalog.Path == memoryCatalog {
		cat = catalog.NewMemory()
	} else {
		db, err := catalog.OpenStorm(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.Close)
		cat = db
	}
	log.Debug("Catalog opened", slog.String("path", cfg.Catalog.Path))

	factory := storage.NewStoreFactory(log, cat, cfg.AWS, cachedClients).WithTempDir(cfg.TempDir)
	stores := make(map[string]interfaces.ContentAddressableStore, len(cfg.Storages))
	for _, name := range sortedNames(cfg.Storages) {
		sc := cfg.Storages[name]
		store, err := factory.StoreFor(name, sc.URI)
		if err != nil {
			return nil, fmt.Errorf("storage %q: %w", name, err)
		}
		if err := initialize(ctx, sc, store); err != nil {
			return nil, fmt.Errorf("storage %q: %w", name, err)
		}

		if len(sc.Mirrors) > 0 {
			mirrors := make([]interfaces.ContentAddressableStore, 0, len(sc.Mirrors))
			for i, uri := range sc.Mirrors {
				mirror, err := factory.StoreFor(fmt.Sprintf("%s-mirror-%d", name, i), uri)
				if err != nil {
					return nil, fmt.Errorf("storage %q: %w", name, err)
				}
				if err := initialize(ctx, sc, mirror); err != nil {
					return nil, fmt.Errorf("storage %q: %w", name, err)
				}
				mirrors = append(mirrors, mirror)
			}
			store, err = storage.NewMirrorStore(name, store, mirrors, log)
			if err != nil {
				return nil, err
			}
		}
		stores[name] = store
	}

	targets := make(map[string]interfaces.PublicationTarget, len(cfg.Targets))
	for _, name := range sortedNames(cfg.Targets) {
		tc := cfg.Targets[name]
		awsCfg := cfg.AWS
		awsCfg.Region = tc.Region
		clients, err := cachedClients(awsCfg)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", name, err)
		}

		var resolver target.OriginResolver
		if tc.CloudFront != nil && clients.CloudFront != nil {
			resolver = cdn.NewResolver(clients.CloudFront, log)
		}
		tgt, err := target.New(ctx, tc, clients.S3, clients.Uploader, resolver, cat, log)
		if err != nil {
			return nil, err
		}
		targets[name] = tgt
	}

	app.manager = manager.New(cat, m, log)
	for _, name := range sortedNames(cfg.Collections) {
		cc := cfg.Collections[name]
		collection := interfaces.Collection{
			Name:        name,
			StaticPaths: cc.StaticPaths,
		}
		if cc.Storage != "" {
			collection.Storage = stores[cc.Storage]
		}
		var tgt interfaces.PublicationTarget
		if cc.Target != "" {
			tgt = targets[cc.Target]
		}
		if err := app.manager.Register(collection, tgt); err != nil {
			return nil, err
		}
	}

	log.Info("Publisher configured",
		slog.Int("storages", len(stores)),
		slog.Int("targets", len(targets)),
		slog.Int("collections", len(cfg.Collections)))
	return app, nil
}

func initialize(ctx context.Context, sc config.StorageConfig, store interfaces.ContentAddressableStore) error {
	if !sc.Initialize {
		return nil
	}
	if s, ok := store.(initializer); ok {
		return s.Initialize(ctx, initializeTimeout)
	}
	return nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
