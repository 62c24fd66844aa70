// Package catalog loads the categorised list of luggage items a customer can
// pick quantities for. The list is fetched once from a static source and
// kept until it is explicitly invalidated.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

//go:embed luggage-data.json
var defaultData []byte

// Category groups items for display.
type Category struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	SortOrder int    `json:"sortOrder"`
	Items     []Item `json:"items"`
}

// Item is one selectable piece of luggage.
type Item struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	SubLabel  string `json:"subLabel,omitempty"`
	SortOrder int    `json:"sortOrder"`
}

// Source fetches the raw catalog document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// EmbeddedSource serves the catalog compiled into the binary.
type EmbeddedSource struct{}

func (EmbeddedSource) Fetch(context.Context) ([]byte, error) { return defaultData, nil }

// FileSource reads the catalog from disk on every fetch.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(context.Context) ([]byte, error) {
	return os.ReadFile(s.Path)
}

// HTTPSource downloads the catalog from a static URL.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog fetch: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// loadTimeout bounds one shared fetch; callers may give up sooner.
const loadTimeout = 30 * time.Second

// Loader is a lazy, memoized accessor over a Source.
type Loader struct {
	src    Source
	logger *zap.Logger

	group singleflight.Group

	mu         sync.RWMutex
	gen        uint64 // bumped by Invalidate
	categories []Category
	index      map[string]Item
}

// NewLoader creates a Loader. Nothing is fetched until the first call.
func NewLoader(src Source, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{src: src, logger: logger}
}

// Categories returns the catalog, loading it on first use. Concurrent first
// callers share one fetch, which does not depend on any single caller's
// context. A failed load is not cached.
func (l *Loader) Categories(ctx context.Context) ([]Category, error) {
	l.mu.RLock()
	cached := l.categories
	l.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	ch := l.group.DoChan("catalog", func() (any, error) {
		return l.load(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Category), nil
	}
}

func (l *Loader) load(ctx context.Context) ([]Category, error) {
	l.mu.RLock()
	cached, gen := l.categories, l.gen
	l.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	raw, err := l.src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching luggage catalog: %w", err)
	}
	cats, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	index := make(map[string]Item)
	for _, c := range cats {
		for _, it := range c.Items {
			index[it.ID] = it
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen {
		// Invalidated while fetching: serve the waiters, keep nothing.
		l.logger.Debug("luggage catalog changed during load, not caching")
		return cats, nil
	}
	l.categories = cats
	l.index = index
	l.logger.Info("luggage catalog loaded",
		zap.Int("categories", len(cats)), zap.Int("items", len(index)))
	return cats, nil
}

// Lookup returns the item with id, loading the catalog if needed.
func (l *Loader) Lookup(ctx context.Context, id string) (Item, bool, error) {
	cats, err := l.Categories(ctx)
	if err != nil {
		return Item{}, false, err
	}
	l.mu.RLock()
	index := l.index
	l.mu.RUnlock()
	if index != nil {
		it, ok := index[id]
		return it, ok, nil
	}
	// The load was not cached; search what it returned.
	for _, c := range cats {
		for _, it := range c.Items {
			if it.ID == id {
				return it, true, nil
			}
		}
	}
	return Item{}, false, nil
}

// Invalidate drops the cached catalog; the next call reloads it.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.gen++
	l.categories = nil
	l.index = nil
	l.mu.Unlock()
	l.group.Forget("catalog")
	l.logger.Info("luggage catalog invalidated")
}

// Parse decodes a catalog document and sorts categories and items by their
// sort order.
func Parse(raw []byte) ([]Category, error) {
	var cats []Category
	if err := json.Unmarshal(raw, &cats); err != nil {
		return nil, fmt.Errorf("decoding luggage catalog: %w", err)
	}
	if cats == nil {
		cats = []Category{}
	}
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].SortOrder < cats[j].SortOrder })
	for i := range cats {
		items := cats[i].Items
		sort.SliceStable(items, func(a, b int) bool { return items[a].SortOrder < items[b].SortOrder })
	}
	return cats, nil
}
