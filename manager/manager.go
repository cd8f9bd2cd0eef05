// Package manager ties stores, the catalog and publication targets together.
// It owns the resource lifecycle: a resource is imported into its
// collection's store, recorded in the catalog, published through the
// collection's target, and physically deleted once no catalog record
// references its content any more.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/ruteri/s3-resource-publisher/metrics"
	"github.com/ruteri/s3-resource-publisher/storage"
)

// ErrUnknownCollection is returned for a collection that was never registered.
var ErrUnknownCollection = errors.New("unknown collection")

// Binding is a collection together with the target it is published to.
// Target may be nil for collections that are stored but never published.
type Binding struct {
	Collection interfaces.Collection
	Target     interfaces.PublicationTarget
}

// StaticURIResolver is implemented by targets able to address files
// published with PublishDirectory.
type StaticURIResolver interface {
	PublicStaticURI(relativePath string) string
}

// Manager is safe for concurrent use. Operations on the same digest are not
// serialized; callers must not delete and publish one resource concurrently.
type Manager struct {
	catalog interfaces.Catalog
	metrics *metrics.Metrics
	log     *slog.Logger

	mu       sync.RWMutex
	bindings map[string]Binding
}

// New creates a manager over catalog. m may be nil.
func New(catalog interfaces.Catalog, m *metrics.Metrics, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		catalog:  catalog,
		metrics:  m,
		log:      log,
		bindings: make(map[string]Binding),
	}
}

// Register adds a collection and its target.
func (m *Manager) Register(collection interfaces.Collection, target interfaces.PublicationTarget) error {
	if collection.Name == "" {
		return fmt.Errorf("%w: collection without a name", interfaces.ErrConfiguration)
	}
	if collection.Storage == nil && len(collection.StaticPaths) == 0 {
		return fmt.Errorf("%w: collection %q has neither storage nor static paths", interfaces.ErrConfiguration, collection.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bindings[collection.Name]; ok {
		return fmt.Errorf("%w: collection %q registered twice", interfaces.ErrConfiguration, collection.Name)
	}
	m.bindings[collection.Name] = Binding{Collection: collection, Target: target}
	return nil
}

// Binding returns the registered collection called name.
func (m *Manager) Binding(name string) (Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bindings[name]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return b, nil
}

// Collections returns the sorted names of registered collections.
func (m *Manager) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.bindings))
	for name := range m.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) storedBinding(name string) (Binding, error) {
	b, err := m.Binding(name)
	if err != nil {
		return Binding{}, err
	}
	if b.Collection.Storage == nil {
		return Binding{}, fmt.Errorf("%w: collection %q holds only static files", interfaces.ErrConfiguration, name)
	}
	return b, nil
}

func (m *Manager) publishedBinding(name string) (Binding, error) {
	b, err := m.Binding(name)
	if err != nil {
		return Binding{}, err
	}
	if b.Target == nil {
		return Binding{}, fmt.Errorf("%w: collection %q has no publication target", interfaces.ErrConfiguration, name)
	}
	return b, nil
}

// Import stores r in the collection's store and records it in the catalog.
// An empty mediaType is derived from filename.
func (m *Manager) Import(ctx context.Context, collection string, r io.Reader, filename, mediaType string) (*interfaces.Resource, error) {
	start := time.Now()
	res, err := m.doImport(ctx, collection, func(store interfaces.ContentAddressableStore) (*interfaces.Resource, error) {
		res, err := store.Import(ctx, r, collection)
		if err != nil {
			return nil, err
		}
		if filename != "" {
			res.Filename = filepath.Base(filename)
		}
		res.MediaType = mediaType
		if res.MediaType == "" && filename != "" {
			res.MediaType = mime.TypeByExtension(filepath.Ext(filename))
		}
		return res, nil
	})
	m.metrics.ObserveDuration("import", start)
	return res, err
}

// ImportFile imports the local file at path.
func (m *Manager) ImportFile(ctx context.Context, collection, path string) (*interfaces.Resource, error) {
	start := time.Now()
	res, err := m.doImport(ctx, collection, func(store interfaces.ContentAddressableStore) (*interfaces.Resource, error) {
		return storage.ImportFile(ctx, store, path, collection)
	})
	m.metrics.ObserveDuration("import", start)
	return res, err
}

func (m *Manager) doImport(ctx context.Context, collection string, importFn func(interfaces.ContentAddressableStore) (*interfaces.Resource, error)) (*interfaces.Resource, error) {
	b, err := m.storedBinding(collection)
	if err != nil {
		return nil, err
	}

	res, err := importFn(b.Collection.Storage)
	if err == nil {
		err = m.catalog.Add(ctx, *res)
	}
	m.metrics.ObserveImport(collection, err)
	if err != nil {
		m.log.Error("Import failed", slog.String("collection", collection), "err", err)
		return nil, err
	}

	m.log.Info("Imported resource",
		slog.String("collection", collection),
		slog.String("digest", res.Digest.Short()),
		slog.String("filename", res.Filename),
		slog.Int64("size", res.Size))
	return res, nil
}

// Find returns the catalog record of digest in collection.
func (m *Manager) Find(ctx context.Context, collection string, digest interfaces.Digest) (*interfaces.Resource, error) {
	if err := digest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrContentNotFound, err)
	}
	resources, err := m.catalog.FindByCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, res := range resources {
		if res.Digest == digest {
			return &res, nil
		}
	}
	return nil, fmt.Errorf("%w: %s in collection %q", interfaces.ErrContentNotFound, digest, collection)
}

// List returns the resources of a collection through its store.
func (m *Manager) List(ctx context.Context, collection string) ([]interfaces.Resource, error) {
	b, err := m.storedBinding(collection)
	if err != nil {
		return nil, err
	}
	var out []interfaces.Resource
	for obj, err := range b.Collection.Storage.ListObjects(ctx, collection) {
		if err != nil {
			return nil, err
		}
		out = append(out, obj.Resource)
	}
	return out, nil
}

// Fetch opens the bytes of digest. The caller closes the stream.
func (m *Manager) Fetch(ctx context.Context, collection string, digest interfaces.Digest) (io.ReadCloser, *interfaces.Resource, error) {
	b, err := m.storedBinding(collection)
	if err != nil {
		return nil, nil, err
	}
	res, err := m.Find(ctx, collection, digest)
	if err != nil {
		return nil, nil, err
	}
	rc, err := b.Collection.Storage.FetchStream(ctx, *res)
	if err != nil {
		return nil, nil, err
	}
	if rc == nil {
		return nil, nil, fmt.Errorf("%w: %s is recorded but its bytes are missing", interfaces.ErrContentNotFound, digest)
	}
	return rc, res, nil
}

// Delete unpublishes the resource, drops its catalog record and removes
// the stored bytes once no other record references them.
func (m *Manager) Delete(ctx context.Context, collection string, digest interfaces.Digest) error {
	b, err := m.storedBinding(collection)
	if err != nil {
		return err
	}
	res, err := m.Find(ctx, collection, digest)
	if err != nil {
		return err
	}

	// Unpublish while the record still counts as a reference.
	if b.Target != nil {
		outcome, err := b.Target.UnpublishResource(ctx, *res, b.Collection.Storage.Identity())
		m.metrics.ObservePublication(b.Target.Name(), "unpublish", outcome, err)
		if err != nil {
			return err
		}
	}

	if err := m.catalog.Remove(ctx, *res); err != nil {
		return err
	}
	remaining, err := m.storeReferences(ctx, digest, b.Collection.Storage.Identity())
	if err != nil {
		return err
	}
	if remaining > 0 {
		m.log.Info("Removed resource record, content still referenced",
			slog.String("collection", collection),
			slog.String("digest", digest.Short()),
			slog.Int("references", remaining))
		return nil
	}

	if err := b.Collection.Storage.Delete(ctx, *res); err != nil {
		return err
	}
	m.log.Info("Deleted resource",
		slog.String("collection", collection),
		slog.String("digest", digest.Short()))
	return nil
}

// storeReferences counts the catalog records of digest whose collection
// keeps its bytes in the store with the given identity. Records of
// collections that are not registered here count as references.
func (m *Manager) storeReferences(ctx context.Context, digest interfaces.Digest, id interfaces.StorageIdentity) (int, error) {
	records, err := m.catalog.FindByCollection(ctx, "")
	if err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rec := range records {
		if rec.Digest != digest {
			continue
		}
		b, ok := m.bindings[rec.Collection]
		if !ok || b.Collection.Storage == nil || b.Collection.Storage.Identity() == id {
			n++
		}
	}
	return n, nil
}

// Publish makes one resource of collection readable through its target.
func (m *Manager) Publish(ctx context.Context, collection string, digest interfaces.Digest) (interfaces.PublishOutcome, error) {
	b, err := m.publishedBinding(collection)
	if err != nil {
		return interfaces.OutcomeUnchanged, err
	}
	res, err := m.Find(ctx, collection, digest)
	if err != nil {
		return interfaces.OutcomeUnchanged, err
	}

	start := time.Now()
	outcome, err := b.Target.PublishResource(ctx, *res, b.Collection)
	m.metrics.ObservePublication(b.Target.Name(), "publish", outcome, err)
	m.metrics.ObserveDuration("publish", start)
	if err != nil {
		return outcome, err
	}
	m.log.Info("Published resource",
		slog.String("collection", collection),
		slog.String("target", b.Target.Name()),
		slog.String("digest", digest.Short()),
		slog.String("outcome", outcome.String()))
	return outcome, nil
}

// Unpublish revokes the publication of one resource.
func (m *Manager) Unpublish(ctx context.Context, collection string, digest interfaces.Digest) (interfaces.PublishOutcome, error) {
	b, err := m.publishedBinding(collection)
	if err != nil {
		return interfaces.OutcomeUnchanged, err
	}
	if b.Collection.Storage == nil {
		return interfaces.OutcomeUnchanged, fmt.Errorf("%w: collection %q holds only static files", interfaces.ErrConfiguration, collection)
	}
	res, err := m.Find(ctx, collection, digest)
	if err != nil {
		return interfaces.OutcomeUnchanged, err
	}

	outcome, err := b.Target.UnpublishResource(ctx, *res, b.Collection.Storage.Identity())
	m.metrics.ObservePublication(b.Target.Name(), "unpublish", outcome, err)
	if err != nil {
		return outcome, err
	}
	m.log.Info("Unpublished resource",
		slog.String("collection", collection),
		slog.String("target", b.Target.Name()),
		slog.String("digest", digest.Short()),
		slog.String("outcome", outcome.String()))
	return outcome, nil
}

// PublishCollection publishes a whole collection. The returned error joins
// the failures of single resources.
func (m *Manager) PublishCollection(ctx context.Context, collection string) error {
	b, err := m.publishedBinding(collection)
	if err != nil {
		return err
	}
	start := time.Now()
	err = b.Target.PublishCollection(ctx, b.Collection)
	m.metrics.ObserveDuration("publish_collection", start)
	return err
}

// PublishAll publishes every registered collection that has a target.
func (m *Manager) PublishAll(ctx context.Context) error {
	var errs []error
	for _, name := range m.Collections() {
		b, _ := m.Binding(name)
		if b.Target == nil {
			continue
		}
		if err := m.PublishCollection(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("collection %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// PublishDirectory uploads dir under prefix through the collection's target.
func (m *Manager) PublishDirectory(ctx context.Context, collection, dir, prefix string) error {
	b, err := m.publishedBinding(collection)
	if err != nil {
		return err
	}
	return b.Target.PublishDirectory(ctx, dir, prefix)
}

// PublicURI returns the web address of a resource of collection.
func (m *Manager) PublicURI(ctx context.Context, collection string, digest interfaces.Digest) (string, error) {
	b, err := m.publishedBinding(collection)
	if err != nil {
		return "", err
	}
	res, err := m.Find(ctx, collection, digest)
	if err != nil {
		return "", err
	}
	var identity interfaces.StorageIdentity
	if b.Collection.Storage != nil {
		identity = b.Collection.Storage.Identity()
	}
	return b.Target.PublicURI(*res, identity), nil
}

// PublicStaticURI returns the web address of a file published from the
// collection's static paths.
func (m *Manager) PublicStaticURI(collection, relativePath string) (string, error) {
	b, err := m.publishedBinding(collection)
	if err != nil {
		return "", err
	}
	r, ok := b.Target.(StaticURIResolver)
	if !ok {
		return "", fmt.Errorf("%w: target %q cannot address static files", interfaces.ErrConfiguration, b.Target.Name())
	}
	return r.PublicStaticURI(relativePath), nil
}
