// Package errors provides standardized error handling for lookupkit.
//
// # Classification
//
// Errors fall into three classes:
//
//   - Transient: a source could not be reached (network error, timeout, 404 or
//     5xx from a master). Lookups recover locally by falling back to their
//     local cache and never surface these to pipeline code.
//   - Invalid: malformed input or a capability the source does not offer
//     (ErrNotSupported). These are not retried automatically.
//   - Fatal: schema or invariant violations such as overlapping intervals in
//     a tree range index, or a payload that fails to deserialize. These are
//     returned to the caller and must not be swallowed.
//
// # Wrapping
//
// All wrapping follows the pattern
//
//	"component.method: action failed: %w"
//
// via Wrap, WrapTransient, WrapInvalid and WrapFatal. The wrapped chain keeps
// the sentinel, so errors.Is(err, ErrUnavailable) still works after wrapping:
//
//	if err := fetch(ctx); err != nil {
//	    return nil, errors.WrapTransient(errors.ErrUnavailable, "HTTPProvider", "Load", "fetch")
//	}
//
// # Provider outcomes
//
// Providers report "nothing to load" through sentinels rather than panics or
// nil slices: ErrNoData, ErrNotModified, ErrUnavailable and ErrCacheCorrupted
// (see IsNoData), plus ErrNotSupported for permanent "not available".
package errors
