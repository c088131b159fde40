package errors

import "errors"

// Network errors classify fetch and key-service failures so callers can
// decide between retrying and giving up.
var (
	// ErrTransientNetwork indicates a failure that may succeed on retry,
	// such as a timeout, a reset connection, or a 5xx response.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrPermanentNetwork indicates a failure that will not succeed on
	// retry, such as a 404 or 403 response.
	ErrPermanentNetwork = errors.New("permanent network failure")
)

// Storage errors indicate issues with the cache document on disk.
var (
	// ErrStorageCorrupt indicates the cache document could not be parsed
	// or failed its integrity check.
	ErrStorageCorrupt = errors.New("cache document is corrupt")

	// ErrSchemaTooNew indicates the cache document was written by a newer
	// version of the tool and must not be reinterpreted.
	ErrSchemaTooNew = errors.New("cache document schema is newer than this tool supports")

	// ErrLegacyNotFound indicates no legacy weapon list or key file exists
	// to migrate from.
	ErrLegacyNotFound = errors.New("no legacy data files found")
)

// Key errors indicate issues obtaining or using decryption keys.
var (
	// ErrKeyNotFound indicates no decryption key is stored for an asset.
	ErrKeyNotFound = errors.New("decryption key not found")

	// ErrEmptyKey indicates a decryption key of length zero was supplied.
	ErrEmptyKey = errors.New("decryption key is empty")

	// ErrKeyServiceAuth indicates the key service rejected the request
	// credentials (result=100).
	ErrKeyServiceAuth = errors.New("key service rejected authentication")

	// ErrKeyServiceStatus indicates the key service reported an internal
	// error (result=1000).
	ErrKeyServiceStatus = errors.New("key service reported a server error")
)

// Catalog errors indicate issues with the weapon catalog.
var (
	// ErrEmptyCatalog indicates the asset listing parsed to zero names.
	ErrEmptyCatalog = errors.New("asset listing contains no names")
)

// Config errors indicate invalid tool configuration.
var (
	// ErrInvalidConfig indicates a configuration value is out of range or
	// malformed.
	ErrInvalidConfig = errors.New("invalid configuration")
)
