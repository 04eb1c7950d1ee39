package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// maxRegistryBytes caps the size of a fetched registry.json.
const maxRegistryBytes = 8 << 20

// Load reads a registry from an http(s) URL or a local path.
func Load(ctx context.Context, location string) ([]RegistrySuite, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return LoadFromURL(ctx, location)
	}
	return LoadFromPath(location)
}

// LoadFromPath reads a registry.json file.
func LoadFromPath(path string) ([]RegistrySuite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}
	return parse(data)
}

// LoadFromURL fetches a registry.json over HTTP.
func LoadFromURL(ctx context.Context, url string) ([]RegistrySuite, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching registry: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistryBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	if len(data) > maxRegistryBytes {
		return nil, fmt.Errorf("registry exceeds %d bytes", maxRegistryBytes)
	}
	return parse(data)
}

func parse(data []byte) ([]RegistrySuite, error) {
	var suites []RegistrySuite
	if err := json.Unmarshal(data, &suites); err != nil {
		return nil, fmt.Errorf("parsing registry JSON: %w", err)
	}
	for i, s := range suites {
		if s.Name == "" {
			return nil, fmt.Errorf("registry entry %d: missing name", i)
		}
		if s.GitURL == "" {
			return nil, fmt.Errorf("registry entry %q: missing git_url", s.Name)
		}
	}
	return suites, nil
}

// FindSuite returns the entry for name. An empty version matches the first
// entry listed under that name.
func FindSuite(suites []RegistrySuite, name, version string) (*RegistrySuite, error) {
	for i, s := range suites {
		if s.Name == name && (version == "" || s.Version == version) {
			return &suites[i], nil
		}
	}
	if version != "" {
		return nil, fmt.Errorf("suite %q version %q not found in registry", name, version)
	}
	return nil, fmt.Errorf("suite %q not found in registry", name)
}
