package server

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/c360/lookupkit/errors"
	"github.com/c360/lookupkit/lookup"
)

// snapshot is a lookup payload memoized for one version.
type snapshot struct {
	version uint64
	payload []byte
	etag    string
}

// loadedLookup is implemented by lookups that know whether they hold data.
type loadedLookup interface {
	IsLoaded() bool
}

// Handler serves the lookups of a registry.
type Handler struct {
	registry *lookup.Registry
	endpoint string
	logger   *slog.Logger

	mu        sync.Mutex
	snapshots map[string]snapshot
}

// NewHandler serves registry under endpoint, which defaults to
// lookup.DefaultMasterEndpoint.
func NewHandler(registry *lookup.Registry, endpoint string, logger *slog.Logger) *Handler {
	if endpoint == "" {
		endpoint = lookup.DefaultMasterEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  registry,
		endpoint:  endpoint,
		logger:    logger.With("component", "server"),
		snapshots: make(map[string]snapshot),
	}
}

// Endpoint returns the path prefix lookups are served under.
func (h *Handler) Endpoint() string { return h.endpoint }

// Register mounts the handler on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle(h.endpoint, h)
	h.logger.Info("Lookup endpoint registered", "endpoint", h.endpoint)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := extractLookupID(h.endpoint, r.URL.EscapedPath())
	if !ok {
		http.NotFound(w, r)
		return
	}
	if id == "" {
		h.serveIndex(w)
		return
	}

	l, found := h.registry.Get(id)
	if !found {
		http.Error(w, fmt.Sprintf("lookup %q not found", id), http.StatusNotFound)
		return
	}
	if ll, ok := l.(loadedLookup); ok && !ll.IsLoaded() {
		http.Error(w, fmt.Sprintf("lookup %q not loaded", id), http.StatusServiceUnavailable)
		return
	}

	snap, err := h.snapshot(l)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotSupported) {
			http.Error(w, fmt.Sprintf("lookup %q cannot be replicated", id), http.StatusNotImplemented)
			return
		}
		h.logger.Error("Failed to serialize lookup", "lookup", id, "error", err)
		http.Error(w, "serialization failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("ETag", snap.etag)
	if etagMatches(r.Header.Get("ETag"), snap.etag) || etagMatches(r.Header.Get("If-None-Match"), snap.etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(snap.payload)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		if _, err := w.Write(snap.payload); err != nil {
			h.logger.Debug("Failed to write payload", "lookup", id, "error", err)
		}
	}
}

// snapshot returns the memoized payload for l's current version, serializing
// when the version moved.
func (h *Handler) snapshot(l lookup.Lookup) (snapshot, error) {
	version := l.Version()

	h.mu.Lock()
	snap, ok := h.snapshots[l.ID()]
	h.mu.Unlock()
	if ok && snap.version == version {
		return snap, nil
	}

	payload, err := l.Serialize()
	if err != nil {
		return snapshot{}, err
	}
	snap = snapshot{version: version, payload: payload, etag: ETag(payload)}

	h.mu.Lock()
	if cur, ok := h.snapshots[l.ID()]; !ok || cur.version <= version {
		h.snapshots[l.ID()] = snap
	}
	h.mu.Unlock()
	return snap, nil
}

// Forget drops the memoized payload of id.
func (h *Handler) Forget(id string) {
	h.mu.Lock()
	delete(h.snapshots, id)
	h.mu.Unlock()
}

type lookupInfo struct {
	ID      string `json:"id"`
	Version uint64 `json:"version"`
	Loaded  bool   `json:"loaded"`
	Role    string `json:"role,omitempty"`
}

func (h *Handler) serveIndex(w http.ResponseWriter) {
	ids := h.registry.IDs()
	infos := make([]lookupInfo, 0, len(ids))
	for _, id := range ids {
		l, ok := h.registry.Get(id)
		if !ok {
			continue
		}
		info := lookupInfo{ID: id, Version: l.Version(), Loaded: true}
		if ll, ok := l.(loadedLookup); ok {
			info.Loaded = ll.IsLoaded()
		}
		if ld, ok := l.(lookup.Loader); ok {
			info.Role = lookup.RoleMaster.String()
			if !ld.IsMaster() {
				info.Role = lookup.RoleSlave.String()
			}
		}
		infos = append(infos, info)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		h.logger.Debug("Failed to write lookup index", "error", err)
	}
}

// ETag returns the entity tag served for payload.
func ETag(payload []byte) string {
	h1, h2 := murmur3.Sum128(payload)
	return fmt.Sprintf("%q", fmt.Sprintf("%016x%016x", h1, h2))
}

// etagMatches reports whether header names etag. It accepts a comma
// separated list, weak tags, unquoted tags and "*".
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	want := normalizeETag(etag)
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || normalizeETag(candidate) == want {
			return true
		}
	}
	return false
}

func normalizeETag(tag string) string {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
	return strings.Trim(tag, `"`)
}

// extractLookupID returns the id under endpoint, "" for the endpoint itself.
// Ids may contain slashes but no empty or dot segments.
func extractLookupID(endpoint, path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, endpoint)
	if !ok {
		if path+"/" == endpoint {
			return "", true
		}
		return "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return "", true
	}
	id, err := url.PathUnescape(rest)
	if err != nil || strings.Contains(id, `\`) {
		return "", false
	}
	for _, segment := range strings.Split(id, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", false
		}
	}
	return id, true
}
