package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/s3-resource-publisher/awsclient"
	"github.com/ruteri/s3-resource-publisher/interfaces"
)

// ClientsFunc builds AWS clients for a configuration.
type ClientsFunc func(cfg awsclient.Config) (*awsclient.Clients, error)

// StoreFactory creates content-addressable stores from location URIs.
type StoreFactory struct {
	log        *slog.Logger
	catalog    interfaces.Catalog
	awsConfig  awsclient.Config
	newClients ClientsFunc
	tempDir    string
}

// NewStoreFactory creates a factory. Stores it builds share catalog and
// connect to AWS with awsConfig unless the URI overrides region or endpoint.
func NewStoreFactory(logger *slog.Logger, catalog interfaces.Catalog, awsConfig awsclient.Config, newClients ClientsFunc) *StoreFactory {
	if newClients == nil {
		newClients = func(cfg awsclient.Config) (*awsclient.Clients, error) {
			return awsclient.New(cfg, logger)
		}
	}
	return &StoreFactory{
		log:        logger,
		catalog:    catalog,
		awsConfig:  awsConfig,
		newClients: newClients,
	}
}

// WithTempDir sets the spool directory used by S3 imports.
func (sf *StoreFactory) WithTempDir(dir string) *StoreFactory {
	sf.tempDir = dir
	return sf
}

// StoreFor creates a store from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - MFS directory of an IPFS node
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *StoreFactory) StoreFor(name, locationURI string) (interfaces.ContentAddressableStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3":
		return sf.createS3Store(name, u)
	case "file":
		return sf.createFileStore(name, u)
	case "ipfs":
		return sf.createIPFSStore(name, u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// createS3Store creates an S3 or S3-compatible store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/prefix/?region=us-west-2&endpoint=custom.s3.com
func (sf *StoreFactory) createS3Store(name string, u *url.URL) (interfaces.ContentAddressableStore, error) {
	sf.log.Debug("Creating S3 store", slog.String("uri", redact(u)))

	cfg := sf.awsConfig
	query := u.Query()
	if region := query.Get("region"); region != "" {
		cfg.Region = region
	}
	if endpoint := query.Get("endpoint"); endpoint != "" {
		cfg.Endpoint = endpoint
		cfg.PathStyle = true
	}
	if u.User != nil {
		cfg.AccessKey = u.User.Username()
		cfg.SecretKey, _ = u.User.Password()
		sf.log.Debug("Using embedded credentials for write access")
	}

	clients, err := sf.newClients(cfg)
	if err != nil {
		return nil, err
	}

	return NewS3Store(S3StoreConfig{
		Name:       name,
		BucketName: u.Host,
		Prefix:     strings.TrimPrefix(u.Path, "/"),
		TempDir:    sf.tempDir,
	}, clients.S3, clients.Uploader, sf.catalog, sf.log)
}

// createFileStore creates a file system store.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StoreFactory) createFileStore(name string, u *url.URL) (interfaces.ContentAddressableStore, error) {
	sf.log.Debug("Creating file store", slog.String("uri", u.String()))

	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, u.String())
	}

	return NewFileStore(name, path, sf.catalog, sf.log)
}

// createIPFSStore creates a store on an IPFS node's MFS.
// URI format: ipfs://host:5001/mfs/directory
func (sf *StoreFactory) createIPFSStore(name string, u *url.URL) (interfaces.ContentAddressableStore, error) {
	sf.log.Debug("Creating IPFS store", slog.String("uri", u.String()))
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing API host in IPFS URI: %s", interfaces.ErrInvalidLocationURI, u.String())
	}
	return NewIPFSStore(name, u.Host, u.Path, sf.tempDir, sf.catalog, sf.log)
}

func redact(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	c := *u
	c.User = url.UserPassword(u.User.Username(), "***")
	return c.String()
}
