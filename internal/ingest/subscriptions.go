package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"atlas/internal/catalog"
	"atlas/internal/fileutil"
	"atlas/internal/services"
	"atlas/internal/textutil"
)

// Subscription is one followed feed.
type Subscription struct {
	Name    string   `yaml:"name"`
	URL     string   `yaml:"url"`
	Kind    string   `yaml:"kind"`
	Enabled *bool    `yaml:"enabled,omitempty"`
	Tags    []string `yaml:"tags,omitempty"`
}

// ContentType maps Kind onto a catalog type. Anything but youtube is a
// podcast feed.
func (s Subscription) ContentType() catalog.ContentType {
	if strings.EqualFold(strings.TrimSpace(s.Kind), string(catalog.TypeYouTube)) {
		return catalog.TypeYouTube
	}
	return catalog.TypePodcast
}

// IsEnabled reports whether the subscription should be polled. Unset means
// enabled.
func (s Subscription) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type subscriptionsFile struct {
	Subscriptions []Subscription `yaml:"subscriptions"`
}

// LoadSubscriptions reads the subscriptions file. A missing file yields an
// empty list.
func LoadSubscriptions(path string) ([]Subscription, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}
	var file subscriptionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, services.Wrap(services.ErrInvalidInput, "ingest", "load subscriptions", path, err)
	}
	subs := make([]Subscription, 0, len(file.Subscriptions))
	for i, sub := range file.Subscriptions {
		sub.URL = strings.TrimSpace(sub.URL)
		if sub.URL == "" {
			return nil, services.Wrap(services.ErrInvalidInput, "ingest", "load subscriptions",
				fmt.Sprintf("subscription %d has no url", i+1), nil)
		}
		kind := strings.ToLower(strings.TrimSpace(sub.Kind))
		switch kind {
		case "":
			kind = string(catalog.TypePodcast)
		case string(catalog.TypePodcast), string(catalog.TypeYouTube):
		default:
			return nil, services.Wrap(services.ErrInvalidInput, "ingest", "load subscriptions",
				fmt.Sprintf("subscription %q has unknown kind %q", sub.URL, sub.Kind), nil)
		}
		sub.Kind = kind
		sub.Tags = textutil.NormalizeTags(sub.Tags)
		subs = append(subs, sub)
	}
	return subs, nil
}

// FilterSubscriptions returns the enabled subscriptions of one type.
func FilterSubscriptions(subs []Subscription, ct catalog.ContentType) []Subscription {
	var out []Subscription
	for _, sub := range subs {
		if sub.IsEnabled() && sub.ContentType() == ct {
			out = append(out, sub)
		}
	}
	return out
}

// SaveSubscriptions writes subs to path as YAML.
func SaveSubscriptions(path string, subs []Subscription) error {
	data, err := yaml.Marshal(subscriptionsFile{Subscriptions: subs})
	if err != nil {
		return fmt.Errorf("encode subscriptions: %w", err)
	}
	return fileutil.WriteFileAtomic(path, data, 0o644)
}
