// Package translator renders localized bot texts from message catalogs.
//
// A catalog maps locale -> key -> text. Texts may carry {name} placeholders
// that are replaced with the substitutions passed to Translate. The English
// catalog is embedded; extra locales or overrides are loaded from a JSON or
// YAML file.
package translator

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultLocale is used when a locale or a key is missing from the catalog.
const DefaultLocale = "en"

//go:embed catalog/*.json
var catalogFS embed.FS

// Catalog maps locale to key to text.
type Catalog map[string]map[string]string

// Opts holds Translator configuration.
type Opts struct {
	File          string
	DefaultLocale string
}

// Option configures a Translator.
type Option func(*Opts)

// WithFile merges the catalog stored at path over the embedded one.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func WithFile(path string) Option {
	return func(o *Opts) {
		o.File = path
	}
}

// WithDefaultLocale overrides the fallback locale.
func WithDefaultLocale(locale string) Option {
	return func(o *Opts) {
		o.DefaultLocale = locale
	}
}

// Translator looks up localized texts. It is safe for concurrent use.
type Translator struct {
	mu       sync.RWMutex
	catalog  Catalog
	fallback string
}

// New creates a Translator with the embedded catalogs plus any configured file.
func New(opts ...Option) (*Translator, error) {
	cfg := Opts{DefaultLocale: DefaultLocale}
	for _, opt := range opts {
		opt(&cfg)
	}

	t := &Translator{catalog: make(Catalog), fallback: normalizeLocale(cfg.DefaultLocale)}
	entries, err := catalogFS.ReadDir("catalog")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded catalogs: %w", err)
	}
	for _, e := range entries {
		data, err := catalogFS.ReadFile("catalog/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded catalog %s: %w", e.Name(), err)
		}
		texts := make(map[string]string)
		if err := json.Unmarshal(data, &texts); err != nil {
			return nil, fmt.Errorf("failed to parse embedded catalog %s: %w", e.Name(), err)
		}
		t.Merge(Catalog{strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())): texts})
	}

	if cfg.File != "" {
		c, err := LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		t.Merge(c)
		slog.Info("Translator loaded catalog file", "path", cfg.File, "locales", len(c))
	}
	slog.Debug("Translator created", "locales", t.Locales(), "fallback", t.fallback)
	return t, nil
}

// LoadFile reads a catalog from a JSON or YAML file.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read translations file: %w", err)
	}
	c := make(Catalog)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	default:
		err = json.Unmarshal(data, &c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse translations file %s: %w", path, err)
	}
	return c, nil
}

// Merge adds the texts of c, replacing existing keys.
func (t *Translator) Merge(c Catalog) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for locale, texts := range c {
		locale = normalizeLocale(locale)
		dst, ok := t.catalog[locale]
		if !ok {
			dst = make(map[string]string, len(texts))
			t.catalog[locale] = dst
		}
		for k, v := range texts {
			dst[k] = v
		}
	}
}

// Locales returns the loaded locales.
func (t *Translator) Locales() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.catalog))
	for l := range t.catalog {
		out = append(out, l)
	}
	return out
}

// Translate returns the text for key in locale with {name} placeholders
// replaced from subs. Missing locales and keys fall back to the default
// locale; a key missing everywhere is returned as is.
func (t *Translator) Translate(key, locale string, subs map[string]string) string {
	text, ok := t.lookup(key, normalizeLocale(locale))
	if !ok {
		slog.Warn("Translator missing key", "key", key, "locale", locale)
		return key
	}
	if len(subs) == 0 {
		return text
	}
	pairs := make([]string, 0, 2*len(subs))
	for name, value := range subs {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func (t *Translator) lookup(key, locale string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if text, ok := t.catalog[locale][key]; ok {
		return text, true
	}
	text, ok := t.catalog[t.fallback][key]
	return text, ok
}

// normalizeLocale reduces "it_IT" or "pt-BR" to the language part.
func normalizeLocale(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "_-"); i > 0 {
		locale = locale[:i]
	}
	if locale == "" {
		return DefaultLocale
	}
	return locale
}
