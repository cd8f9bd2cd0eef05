package storage

import (
	"context"
	"fmt"
	"io"
	"iter"
	"mime"
	"os"
	"path/filepath"

	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// listFromCatalog enumerates the catalog records of collection as storage
// objects whose streams are opened through open. The catalog is queried
// once, when iteration starts.
func listFromCatalog(ctx context.Context, catalog interfaces.Catalog, collection string, open func(interfaces.Resource) (io.ReadCloser, error)) iter.Seq2[interfaces.StorageObject, error] {
	return func(yield func(interfaces.StorageObject, error) bool) {
		if catalog == nil {
			yield(interfaces.StorageObject{}, fmt.Errorf("%w: store has no catalog to enumerate", interfaces.ErrConfiguration))
			return
		}

		resources, err := catalog.FindByCollection(ctx, collection)
		if err != nil {
			yield(interfaces.StorageObject{}, fmt.Errorf("failed to list collection %q: %w", collection, err))
			return
		}

		for _, res := range resources {
			obj := interfaces.StorageObject{
				Resource: res,
				Open:     func() (io.ReadCloser, error) { return open(res) },
			}
			if !yield(obj, nil) {
				return
			}
		}
	}
}

// ImportFile imports the file at path into store, recording its base name
// and media type on the returned resource.
func ImportFile(ctx context.Context, store interfaces.ContentAddressableStore, path, collection string) (*interfaces.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open %s: %v", interfaces.ErrImportFailure, path, err)
	}
	defer f.Close()

	res, err := store.Import(ctx, f, collection)
	if err != nil {
		return nil, err
	}
	res.Filename = filepath.Base(path)
	res.MediaType = mime.TypeByExtension(filepath.Ext(path))
	return res, nil
}
