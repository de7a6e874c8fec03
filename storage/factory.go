package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/wallet-attached-storage/interfaces"
)

// StorageBackendFactory creates storage backends from URI strings.
type StorageBackendFactory struct {
	log *slog.Logger
}

// NewStorageBackendFactory creates a new factory instance that can create storage backends.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// StorageBackendFor creates a storage backend from a location URI.
// The URI format should be [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory:// - In-process storage, mainly for tests
//   - file:// - Local filesystem storage
//   - badger:// - Embedded Badger key-value store
//   - sqlite:// - SQLite database
//   - s3:// - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS node via the mutable files API
//   - vault:// - HashiCorp Vault KV v2 secrets engine
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *StorageBackendFactory) StorageBackendFor(locationURI string) (interfaces.StorageBackend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryBackend(sf.log), nil
	case "file":
		return sf.createFileBackend(u)
	case "badger":
		return sf.createBadgerBackend(u)
	case "sqlite":
		return sf.createSQLiteBackend(u)
	case "s3":
		return sf.createS3Backend(u)
	case "ipfs":
		return sf.createIPFSBackend(u)
	case "vault":
		return sf.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// localPath reassembles the host and path parts of a URI into a filesystem
// path, so both file:///abs/path and file://./relative work.
func localPath(u *url.URL) string {
	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	return path
}

// createFileBackend creates a file system storage backend.
// URI format: file:///absolute/path/ or file://./relative/path/
func (sf *StorageBackendFactory) createFileBackend(u *url.URL) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", u.String()))

	path := localPath(u)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidLocationURI, u.String())
	}
	return NewFileBackend(path, sf.log)
}

// createBadgerBackend creates an embedded Badger storage backend.
// URI format: badger:///var/lib/was/badger
func (sf *StorageBackendFactory) createBadgerBackend(u *url.URL) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating badger backend", slog.String("uri", u.String()))

	path := localPath(u)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in badger URI: %s", interfaces.ErrInvalidLocationURI, u.String())
	}
	return NewBadgerBackend(path, sf.log)
}

// createSQLiteBackend creates a SQLite storage backend.
// URI format: sqlite:///var/lib/was/was.db or sqlite://:memory:
func (sf *StorageBackendFactory) createSQLiteBackend(u *url.URL) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating sqlite backend", slog.String("uri", u.String()))

	dsn := localPath(u)
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty path in sqlite URI: %s", interfaces.ErrInvalidLocationURI, u.String())
	}
	return NewSQLiteBackend(dsn, sf.log)
}

// createS3Backend creates an S3 or S3-compatible storage backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/path/?region=us-west-2&endpoint=custom.s3.com
func (sf *StorageBackendFactory) createS3Backend(u *url.URL) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating S3 backend", slog.String("uri", u.String()))

	bucketName := u.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket in S3 URI: %s", interfaces.ErrInvalidLocationURI, u.String())
	}
	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	} else {
		sf.log.Debug("No credentials in S3 URI, relying on ambient AWS credentials")
	}

	return NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey, sf.log)
}

// createIPFSBackend creates an IPFS storage backend.
// URI format: ipfs://host:port/root-dir
func (sf *StorageBackendFactory) createIPFSBackend(u *url.URL) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating IPFS backend", slog.String("uri", u.String()))

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "5001" // Default IPFS API port
	}
	root := strings.Trim(u.Path, "/")
	if root == "" {
		root = "was_data"
	}

	return NewIPFSBackend(host, port, root, sf.log)
}

// createVaultBackend creates a HashiCorp Vault storage backend.
// URI format: vault://[:TOKEN@]host:port/mount/prefix?tls=true
func (sf *StorageBackendFactory) createVaultBackend(u *url.URL) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating vault backend", slog.String("uri", u.String()))

	scheme := "http"
	if u.Query().Get("tls") == "true" {
		scheme = "https"
	}
	vaultAddr := fmt.Sprintf("%s://%s", scheme, u.Host)

	var token string
	if u.User != nil {
		token, _ = u.User.Password()
		if token == "" {
			token = u.User.Username()
		}
	}

	mountPath := "secret"
	prefix := ""
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) > 0 && parts[0] != "" {
		mountPath = parts[0]
	}
	if len(parts) > 1 {
		prefix = parts[1]
	}

	return NewVaultBackend(vaultAddr, token, mountPath, prefix, sf.log)
}
