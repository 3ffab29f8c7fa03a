package provider

import (
	"errors"
	"io/fs"
	"os"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/internal/core/ports"
)

type registryFile struct {
	Providers map[string]providerEntry `yaml:"providers"`
}

type providerEntry struct {
	Kind      string         `yaml:"kind"`
	Responses []responseItem `yaml:"responses"`
}

type responseItem struct {
	Text  string `yaml:"text"`
	Error string `yaml:"error"`
}

// LoadRegistry reads a provider registry file and constructs the configured
// transports. A missing file yields an empty registry: cache-only runs need
// no providers at all.
func LoadRegistry(path string) (map[string]ports.Provider, error) {
	providers := make(map[string]ports.Provider)

	raw, err := os.ReadFile(path) //nolint:gosec // Path is provided by the operator
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return providers, nil
		}
		return nil, zerr.With(zerr.Wrap(err, "failed to read provider registry"), "path", path)
	}

	var doc registryFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to parse provider registry"), "path", path)
	}

	for name, entry := range doc.Providers {
		switch entry.Kind {
		case "echo", "":
			providers[name] = NewEcho(name)
		case "scripted":
			responses := make([]Response, 0, len(entry.Responses))
			for _, r := range entry.Responses {
				resp := Response{Text: r.Text}
				if r.Error != "" {
					resp.Err = errors.New(r.Error)
				}
				responses = append(responses, resp)
			}
			providers[name] = NewScripted(name, responses...)
		default:
			return nil, zerr.With(zerr.New("unknown provider kind"), "provider", name)
		}
	}
	return providers, nil
}
