package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/asdine/storm/v3/codec/json"
	"github.com/asdine/storm/v3/q"
	"github.com/google/uuid"
	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// Record is the persisted form of one catalog entry.
type Record struct {
	ID         string    `json:"id"         storm:"id"`
	Digest     string    `json:"sha1"       storm:"index"`
	Collection string    `json:"collection" storm:"index"`
	MD5        string    `json:"md5"`
	Size       int64     `json:"size"`
	Filename   string    `json:"filename"`
	MediaType  string    `json:"media_type"`
	CreatedAt  time.Time `json:"created_at" storm:"index"`
}

func (r *Record) resource() interfaces.Resource {
	return interfaces.Resource{
		Digest:     interfaces.Digest(r.Digest),
		MD5:        r.MD5,
		Size:       r.Size,
		Collection: r.Collection,
		Filename:   r.Filename,
		MediaType:  r.MediaType,
	}
}

// StormCodec is the format used to store records.
var StormCodec = storm.Codec(json.Codec)

// Storm is a Catalog persisted in a bbolt file through storm.
type Storm struct {
	db *storm.DB
}

// OpenStorm opens (or creates) the catalog database at path.
func OpenStorm(path string) (*Storm, error) {
	db, err := storm.Open(path, StormCodec)
	if err != nil {
		return nil, fmt.Errorf("could not open catalog database: %w", err)
	}
	if err := db.Init(&Record{}); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not init record index: %w", err)
	}
	return &Storm{db: db}, nil
}

// Close the database.
func (c *Storm) Close() error {
	return c.db.Close()
}

// Add records res under its collection.
func (c *Storm) Add(ctx context.Context, res interfaces.Resource) error {
	if err := res.Digest.Validate(); err != nil {
		return err
	}
	rec := &Record{
		ID:         uuid.NewString(),
		Digest:     res.Digest.String(),
		Collection: res.Collection,
		MD5:        res.MD5,
		Size:       res.Size,
		Filename:   res.Filename,
		MediaType:  res.MediaType,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.db.Save(rec); err != nil {
		return fmt.Errorf("could not save record: %w", err)
	}
	return nil
}

// Remove drops one record of res.Digest from res.Collection.
func (c *Storm) Remove(ctx context.Context, res interfaces.Resource) error {
	var rec Record
	err := c.db.Select(q.Eq("Digest", res.Digest.String()), q.Eq("Collection", res.Collection)).OrderBy("CreatedAt").First(&rec)
	if errors.Is(err, storm.ErrNotFound) {
		return fmt.Errorf("%w: %s in collection %q", interfaces.ErrContentNotFound, res.Digest, res.Collection)
	}
	if err != nil {
		return fmt.Errorf("could not find record: %w", err)
	}
	if err := c.db.DeleteStruct(&rec); err != nil {
		return fmt.Errorf("could not delete record: %w", err)
	}
	return nil
}

// FindByCollection returns the records of collection, oldest first. An
// empty collection selects every record.
func (c *Storm) FindByCollection(ctx context.Context, collection string) ([]interfaces.Resource, error) {
	records := make([]*Record, 0)
	var query storm.Query
	if collection == "" {
		query = c.db.Select()
	} else {
		query = c.db.Select(q.Eq("Collection", collection))
	}
	err := query.OrderBy("CreatedAt").Find(&records)
	if err != nil && !errors.Is(err, storm.ErrNotFound) {
		return nil, fmt.Errorf("could not get records: %w", err)
	}

	resources := make([]interfaces.Resource, 0, len(records))
	for _, rec := range records {
		resources = append(resources, rec.resource())
	}
	return resources, nil
}

// FindByDigest returns the first record holding digest.
func (c *Storm) FindByDigest(ctx context.Context, digest interfaces.Digest) (*interfaces.Resource, error) {
	var rec Record
	err := c.db.Select(q.Eq("Digest", digest.String())).OrderBy("CreatedAt").First(&rec)
	if errors.Is(err, storm.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrContentNotFound, digest)
	}
	if err != nil {
		return nil, fmt.Errorf("could not find record: %w", err)
	}
	res := rec.resource()
	return &res, nil
}

// CountByDigest returns how many records hold digest across all collections.
func (c *Storm) CountByDigest(ctx context.Context, digest interfaces.Digest) (int, error) {
	n, err := c.db.Select(q.Eq("Digest", digest.String())).Count(&Record{})
	if err != nil && !errors.Is(err, storm.ErrNotFound) {
		return 0, fmt.Errorf("could not count records: %w", err)
	}
	return n, nil
}
