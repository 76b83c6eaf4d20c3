package provider

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/c360/lookupkit/errors"
)

const (
	etagLengthSize = 4
	etagSeparator  = '\n'
)

// ETagCache is the local cache of an HTTP-backed lookup. The file holds the
// ETag next to the payload so conditional fetches survive a restart:
//
//	uint32 little-endian ETag length | ETag bytes | '\n' | payload
type ETagCache struct {
	file   *FileSystem
	source *HTTP
	logger *slog.Logger
}

// NewETagCache returns the cache for source stored under dir and primes
// source with the ETag found in an existing cache file. A malformed file is
// deleted.
func NewETagCache(dir, id string, source *HTTP, opts ...Option) *ETagCache {
	o := buildOptions(opts)
	c := &ETagCache{
		file:   NewFileSystem(CachePath(dir, id), opts...),
		source: source,
		logger: o.logger.With("component", "provider", "provider", "file://"+CachePath(dir, id)),
	}
	if _, err := c.Load(context.Background()); err != nil && !errors.IsNoData(err) {
		c.logger.Warn("Failed to prime ETag from cache", "error", err)
	}
	return c
}

// Path returns the cache file location.
func (c *ETagCache) Path() string { return c.file.Path() }

func (c *ETagCache) String() string { return c.file.String() }

// Load returns the cached payload and restores the ETag stored with it.
func (c *ETagCache) Load(ctx context.Context) ([]byte, error) {
	raw, err := c.file.Load(ctx)
	if err != nil {
		return nil, err
	}
	etag, payload, err := DecodeETagFile(raw)
	if err != nil {
		c.file.discard(err)
		return nil, errors.Wrap(err, "ETagCache", "Load", "decode cache file")
	}
	c.source.SetETag(etag)
	return payload, nil
}

// Save writes data together with the source's current ETag.
func (c *ETagCache) Save(ctx context.Context, data []byte) error {
	return c.file.Save(ctx, EncodeETagFile(c.source.ETag(), data))
}

// EncodeETagFile lays out an ETag cache file.
func EncodeETagFile(etag string, payload []byte) []byte {
	buf := make([]byte, 0, etagLengthSize+len(etag)+1+len(payload))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(etag)))
	buf = append(buf, etag...)
	buf = append(buf, etagSeparator)
	return append(buf, payload...)
}

// DecodeETagFile splits an ETag cache file. Any structural mismatch is
// ErrCacheCorrupted.
func DecodeETagFile(raw []byte) (string, []byte, error) {
	if len(raw) < etagLengthSize+1 {
		return "", nil, fmt.Errorf("%w: %d bytes is shorter than the header", errors.ErrCacheCorrupted, len(raw))
	}
	n := uint64(binary.LittleEndian.Uint32(raw))
	if n > uint64(len(raw)-etagLengthSize-1) {
		return "", nil, fmt.Errorf("%w: etag length %d exceeds file", errors.ErrCacheCorrupted, n)
	}
	end := etagLengthSize + int(n)
	etag := raw[etagLengthSize:end]
	if raw[end] != etagSeparator {
		return "", nil, fmt.Errorf("%w: missing separator after etag", errors.ErrCacheCorrupted)
	}
	if bytes.IndexByte(etag, etagSeparator) >= 0 {
		return "", nil, fmt.Errorf("%w: etag contains a newline", errors.ErrCacheCorrupted)
	}
	return string(etag), raw[end+1:], nil
}
