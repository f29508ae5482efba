package cachedomain

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

// Metadata is the sidecar JSON document persisted alongside a partial
// file so a download can resume and be validated across process restarts.
// Field names match the on-disk shape exactly: {"Url": ..., "headers": ...}.
type Metadata struct {
	URL     string            `json:"Url"`
	Headers map[string]string `json:"headers"`
}

// NewMetadata builds a Metadata record from the current cached headers.
func NewMetadata(sourceURL string, headers CachedResponseHeaders) Metadata {
	m := Metadata{URL: sourceURL, Headers: make(map[string]string)}
	headers.ForEach(func(name, value string) { m.Headers[name] = value })
	return m
}

// CachedResponseHeaders reconstructs a CachedResponseHeaders from the persisted map.
func (m Metadata) CachedResponseHeaders() CachedResponseHeaders {
	h := http.Header{}
	for k, v := range m.Headers {
		h.Set(k, v)
	}
	return NewCachedResponseHeaders(h, true)
}

// WriteMetadata persists m to path as JSON, best-effort per §5 ("metadata
// writes... are best-effort (errors surfaced but not fatal)").
func WriteMetadata(path string, m Metadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal cache metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write cache metadata %s: %w", path, err)
	}
	return nil
}

// ReadMetadata loads and validates a persisted Metadata document. A
// missing Url field invalidates the file, per the external-interfaces
// section: "missing Url invalidates the file."
func ReadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("parse cache metadata %s: %w", path, err)
	}
	if m.URL == "" {
		return Metadata{}, fmt.Errorf("cache metadata %s missing Url field", path)
	}
	return m, nil
}
