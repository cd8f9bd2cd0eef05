package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// MirrorStore keeps a copy of every blob in one or more secondary stores.
// The primary is authoritative: its identity decides publication keys and
// its listing drives enumeration. Reads fall back to the mirrors in order.
type MirrorStore struct {
	primary interfaces.ContentAddressableStore
	mirrors []interfaces.ContentAddressableStore
	name    string
	log     *slog.Logger
}

// NewMirrorStore creates a mirrored store over primary.
func NewMirrorStore(name string, primary interfaces.ContentAddressableStore, mirrors []interfaces.ContentAddressableStore, logger *slog.Logger) (*MirrorStore, error) {
	if primary == nil {
		return nil, fmt.Errorf("%w: mirrored store %q has no primary", interfaces.ErrConfiguration, name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = "mirror-" + primary.Name()
	}

	return &MirrorStore{
		primary: primary,
		mirrors: mirrors,
		name:    name,
		log:     logger.With(slog.String("store", name)),
	}, nil
}

// Import stores r in the primary and then copies the blob to every mirror.
// Copy failures are logged; the import only fails with the primary.
func (m *MirrorStore) Import(ctx context.Context, r io.Reader, collection string) (*interfaces.Resource, error) {
	start := time.Now()
	res, err := m.primary.Import(ctx, r, collection)
	if err != nil {
		return nil, err
	}

	for _, mirror := range m.mirrors {
		if err := m.copyTo(ctx, mirror, *res); err != nil {
			m.log.Warn("Failed to mirror content",
				slog.String("mirror", mirror.Name()),
				slog.String("digest", res.Digest.Short()),
				"err", err)
		}
	}

	m.log.Debug("Imported mirrored content",
		slog.String("digest", res.Digest.Short()),
		slog.Int("mirrors", len(m.mirrors)),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

func (m *MirrorStore) copyTo(ctx context.Context, mirror interfaces.ContentAddressableStore, res interfaces.Resource) error {
	rc, err := m.primary.FetchStream(ctx, res)
	if err != nil {
		return err
	}
	if rc == nil {
		return fmt.Errorf("%w: primary lost %s", interfaces.ErrContentNotFound, res.Digest.Short())
	}
	defer rc.Close()

	copied, err := mirror.Import(ctx, rc, res.Collection)
	if err != nil {
		return err
	}
	// Same bytes must produce the same digest everywhere.
	if copied.Digest != res.Digest {
		return fmt.Errorf("%w: mirror stored %s as %s", interfaces.ErrImportFailure, res.Digest.Short(), copied.Digest.Short())
	}
	return nil
}

// FetchStream returns the first stream any store can supply. Faults of
// single stores are only reported when no store has the bytes.
func (m *MirrorStore) FetchStream(ctx context.Context, res interfaces.Resource) (io.ReadCloser, error) {
	var errs []error
	for _, store := range m.stores() {
		rc, err := store.FetchStream(ctx, res)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
			m.log.Debug("Failed to fetch from store",
				slog.String("source", store.Name()),
				slog.String("digest", res.Digest.Short()),
				"err", err)
			continue
		}
		if rc != nil {
			return rc, nil
		}
	}

	if len(errs) > 0 {
		m.log.Error("All stores failed to fetch content",
			slog.String("digest", res.Digest.Short()),
			slog.Int("failed_stores", len(errs)))
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

// ListObjects enumerates the primary; streams are opened with fallback.
func (m *MirrorStore) ListObjects(ctx context.Context, collection string) iter.Seq2[interfaces.StorageObject, error] {
	return func(yield func(interfaces.StorageObject, error) bool) {
		for obj, err := range m.primary.ListObjects(ctx, collection) {
			if err == nil {
				res := obj.Resource
				obj.Open = func() (io.ReadCloser, error) { return m.FetchStream(ctx, res) }
			}
			if !yield(obj, err) {
				return
			}
		}
	}
}

// Delete removes the blob from every store.
func (m *MirrorStore) Delete(ctx context.Context, res interfaces.Resource) error {
	var errs []error
	for _, store := range m.stores() {
		if err := store.Delete(ctx, res); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", store.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *MirrorStore) Identity() interfaces.StorageIdentity {
	return m.primary.Identity()
}

func (m *MirrorStore) Name() string {
	return m.name
}

func (m *MirrorStore) stores() []interfaces.ContentAddressableStore {
	return append([]interfaces.ContentAddressableStore{m.primary}, m.mirrors...)
}
