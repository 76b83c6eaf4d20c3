package lookup

import (
	"context"
	"strings"
	"time"
)

// Role tells whether a lookup owns its data or replicates it from a master.
type Role int

const (
	// RoleMaster loads from its own source and serves slaves.
	RoleMaster Role = iota
	// RoleSlave pulls from a master over HTTP.
	RoleSlave
)

func (r Role) String() string {
	if r == RoleSlave {
		return "slave"
	}
	return "master"
}

// DefaultMasterEndpoint is the path prefix masters serve lookups under.
const DefaultMasterEndpoint = "/lookup/"

// Lookup is what the registry and the master server need from any lookup.
type Lookup interface {
	ID() string
	// Version changes whenever the data served by Serialize changes.
	Version() uint64
	// Serialize returns the replication payload, or ErrNotSupported for
	// lookups that cannot be replicated.
	Serialize() ([]byte, error)
}

// Loader is a lookup that can be refreshed from its provider.
type Loader interface {
	Lookup
	Load(ctx context.Context) (bool, error)
	IsMaster() bool
}

// Payload is the variant-specific half of a lookup: how its data becomes
// bytes and back. Deserialize must leave the current data untouched when it
// fails.
type Payload interface {
	Serialize() ([]byte, error)
	Deserialize(data []byte) error
}

// Config identifies a lookup and where its data comes from.
type Config struct {
	ID string

	// Source is the provider URL or path a master loads from. Empty means
	// the local cache file is the source.
	Source string

	// MasterURL is the base URL of the master. Setting it makes the lookup
	// a slave.
	MasterURL      string
	MasterLookupID string
	MasterEndpoint string
	MasterTimeout  time.Duration

	// UseCache keeps the master's ETag next to the cached payload.
	UseCache bool
	CacheDir string
}

// BuildMasterURL joins base, endpoint and id into the URL a slave fetches.
// The endpoint defaults to DefaultMasterEndpoint and the trailing slash of
// the result is trimmed.
func BuildMasterURL(base, endpoint, id string) string {
	if base == "" {
		return ""
	}
	if endpoint == "" {
		endpoint = DefaultMasterEndpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	url := strings.TrimRight(base, "/") + endpoint + strings.TrimLeft(id, "/")
	return strings.TrimRight(url, "/")
}
