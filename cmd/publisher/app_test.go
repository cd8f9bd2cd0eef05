package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/s3-resource-publisher/awsclient"
	"github.com/ruteri/s3-resource-publisher/catalog"
	"github.com/ruteri/s3-resource-publisher/config"
	"github.com/ruteri/s3-resource-publisher/interfaces"
	"github.com/ruteri/s3-resource-publisher/s3mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApplication_SetupFailure(t *testing.T) {
	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.db")
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
catalog:
  path: %[1]s
storages:
  local:
    uri: file://%[2]s/blobs
targets:
  web:
    bucketName: Bad_Bucket
collections:
  docs:
    storage: local
    target: web
`, catalogPath, dir)))
	require.NoError(t, err)

	fake := s3mock.New()
	newClients := func(c awsclient.Config) (*awsclient.Clients, error) {
		return &awsclient.Clients{S3: fake, Uploader: fake.Uploader(), Region: c.Region}, nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var app *application
	require.NotPanics(t, func() {
		app, err = newApplication(context.Background(), cfg, newClients, nil, logger)
	})
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)
	assert.Nil(t, app)

	// The catalog file lock is released, so the database opens again.
	opened := make(chan error, 1)
	go func() {
		db, err := catalog.OpenStorm(catalogPath)
		if err == nil {
			err = db.Close()
		}
		opened <- err
	}()
	select {
	case err := <-opened:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog database still locked after failed setup")
	}
}

func TestNewApplication_MemoryCatalog(t *testing.T) {
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
catalog:
  path: ":memory:"
storages:
  local:
    uri: file://%s/blobs
collections:
  docs:
    storage: local
`, t.TempDir())))
	require.NoError(t, err)

	app, err := newApplication(context.Background(), cfg, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, app.manager.Collections())
	assert.NoError(t, app.Close())
}
