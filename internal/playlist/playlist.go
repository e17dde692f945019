package playlist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/jscyril/music_stream_engine/api"
	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
)

// Lookup returns the descriptor for id
func (p *Playlist) Lookup(id api.ResourceIdentifier) (api.ResourceDescriptor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, r := range p.resources {
		if r.ID == id {
			return r, true
		}
	}
	return api.ResourceDescriptor{}, false
}

// Update replaces every entry whose id matches desc.ID. It reports whether
// any entry was found.
func (p *Playlist) Update(desc api.ResourceDescriptor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	found := false
	for i := range p.resources {
		if p.resources[i].ID == desc.ID {
			p.resources[i] = desc
			found = true
		}
	}
	return found
}

// Resources returns a copy of all descriptors in playlist order
func (p *Playlist) Resources() []api.ResourceDescriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]api.ResourceDescriptor, len(p.resources))
	copy(result, p.resources)
	return result
}

// LoadFile reads a JSON array of descriptors. Entries are network
// resources; entries without an id are skipped.
func LoadFile(path string) ([]api.ResourceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playlist file: %w", err)
	}

	var entries []api.ResourceDescriptor
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse playlist file: %v", playerrors.ErrInvalidFormat, err)
	}

	resources := make([]api.ResourceDescriptor, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue // Skip anonymous entries
		}
		e.Source = api.SourceNetwork
		resources = append(resources, e)
	}
	return resources, nil
}

// SaveFile writes resources as a JSON array to path
func SaveFile(path string, resources []api.ResourceDescriptor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create playlist directory: %w", err)
	}

	data, err := json.MarshalIndent(resources, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal playlist: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write playlist file: %w", err)
	}
	return nil
}

// FromURLs builds network descriptors for a list of stream URLs. Ids are
// derived from the URL so a resource keeps its cache entry across runs.
func FromURLs(urls []string) []api.ResourceDescriptor {
	resources := make([]api.ResourceDescriptor, 0, len(urls))
	for _, u := range urls {
		resources = append(resources, api.ResourceDescriptor{
			ID:          fmt.Sprintf("url-%016x", xxhash.Sum64String(u)),
			DisplayName: filepath.Base(u),
			Source:      api.SourceNetwork,
			RemoteURL:   u,
		})
	}
	return resources
}
