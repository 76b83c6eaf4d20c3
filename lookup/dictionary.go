package lookup

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/lookupkit/errors"
)

// DictionaryLookup maps string keys to JSON values. Its replication payload
// is a JSON object.
type DictionaryLookup struct {
	*Controller

	mu   sync.RWMutex
	data map[string]any
}

// NewDictionary creates an empty dictionary lookup.
func NewDictionary(cfg Config, opts ...Option) (*DictionaryLookup, error) {
	d := &DictionaryLookup{data: make(map[string]any)}
	c, err := NewController(cfg, d, opts...)
	if err != nil {
		return nil, err
	}
	d.Controller = c
	return d, nil
}

// Get returns the value stored under key.
func (d *DictionaryLookup) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	return v, ok
}

// Keys returns every key in sorted order.
func (d *DictionaryLookup) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (d *DictionaryLookup) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.data)
}

// Set stores value under key. Values must be JSON encodable to replicate.
func (d *DictionaryLookup) Set(key string, value any) {
	d.mu.Lock()
	d.data[key] = value
	d.mu.Unlock()
	d.Touch()
}

// Delete removes key and reports whether it was present.
func (d *DictionaryLookup) Delete(key string) bool {
	d.mu.Lock()
	_, ok := d.data[key]
	delete(d.data, key)
	d.mu.Unlock()
	if ok {
		d.Touch()
	}
	return ok
}

// Serialize encodes the mapping as a JSON object.
func (d *DictionaryLookup) Serialize() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, err := json.Marshal(d.data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "DictionaryLookup", "Serialize", "marshal mapping")
	}
	return data, nil
}

// Deserialize replaces the mapping with the JSON object in data.
func (d *DictionaryLookup) Deserialize(data []byte) error {
	fresh := make(map[string]any)
	if err := json.Unmarshal(data, &fresh); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "DictionaryLookup", "Deserialize", "unmarshal mapping")
	}
	if fresh == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: payload is null", errors.ErrParsingFailed), "DictionaryLookup", "Deserialize", "unmarshal mapping")
	}
	d.mu.Lock()
	d.data = fresh
	d.mu.Unlock()
	return nil
}
