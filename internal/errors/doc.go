// Package errors provides typed error values for the wogdump tool.
//
// Using sentinel errors allows callers to handle specific error conditions
// programmatically with errors.Is() rather than string matching. This makes
// error handling more robust and refactoring-safe.
//
// # Error Categories
//
// Errors are grouped by category:
//
//   - Network errors: Retryable vs. dead-end failures (ErrTransientNetwork, ErrPermanentNetwork)
//   - Storage errors: Cache document issues (ErrStorageCorrupt, ErrSchemaTooNew, ErrLegacyNotFound)
//   - Key errors: Decryption key issues (ErrKeyNotFound, ErrEmptyKey, ErrKeyServiceAuth)
//   - Catalog errors: Weapon listing issues (ErrEmptyCatalog)
//   - Config errors: Invalid tool configuration (ErrInvalidConfig)
//
// # Usage
//
// Return errors from internal packages:
//
//	if len(key) == 0 {
//	    return errors.ErrEmptyKey
//	}
//
// Handle errors in the CLI layer:
//
//	report, err := st.MigrateLegacy(weaponsPath, keysPath)
//	if errors.Is(err, werrors.ErrLegacyNotFound) {
//	    // Show user-friendly message
//	}
//
// Wrap errors with additional context:
//
//	return fmt.Errorf("no key stored for %s: %w", name, errors.ErrKeyNotFound)
package errors