package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls atomic.Int32
	data  []byte
	err   error
	delay time.Duration
}

func (s *countingSource) Fetch(context.Context) ([]byte, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return s.data, s.err
}

// gatedSource blocks every fetch until gate is closed or the fetch context
// ends.
type gatedSource struct {
	calls   atomic.Int32
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedSource() *gatedSource {
	return &gatedSource{started: make(chan struct{}), gate: make(chan struct{})}
}

func (s *gatedSource) Fetch(ctx context.Context) ([]byte, error) {
	s.calls.Add(1)
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.gate:
		return defaultData, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestLoader_EmbeddedCatalog(t *testing.T) {
	l := NewLoader(EmbeddedSource{}, nil)
	cats, err := l.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 3)
	assert.Equal(t, "furniture", cats[0].Code)
	assert.Equal(t, "ベッド", cats[0].Items[0].Name)
	assert.Equal(t, "シングル", cats[0].Items[0].SubLabel)
}

func TestLoader_MemoizesAndCoalesces(t *testing.T) {
	src := &countingSource{data: defaultData, delay: 20 * time.Millisecond}
	l := NewLoader(src, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Categories(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	_, err := l.Categories(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.calls.Load())
}

func TestLoader_InvalidateReloads(t *testing.T) {
	src := &countingSource{data: defaultData}
	l := NewLoader(src, nil)

	_, err := l.Categories(context.Background())
	require.NoError(t, err)
	l.Invalidate()
	_, err = l.Categories(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), src.calls.Load())
}

func TestLoader_FailureIsNotCached(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	l := NewLoader(src, nil)

	_, err := l.Categories(context.Background())
	require.Error(t, err)

	src.err = nil
	src.data = defaultData
	cats, err := l.Categories(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, cats)
}

func TestLoader_CancelledCallerDoesNotFailOthers(t *testing.T) {
	src := newGatedSource()
	l := NewLoader(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := l.Categories(ctx)
		first <- err
	}()
	<-src.started

	second := make(chan error, 1)
	go func() {
		_, err := l.Categories(context.Background())
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)
	close(src.gate)
	require.NoError(t, <-second)
	assert.Equal(t, int32(1), src.calls.Load())

	_, err := l.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load(), "shared load was cached")
}

func TestLoader_InvalidateDuringLoadIsNotOverwritten(t *testing.T) {
	src := newGatedSource()
	l := NewLoader(src, nil)

	done := make(chan error, 1)
	go func() {
		_, err := l.Categories(context.Background())
		done <- err
	}()
	<-src.started
	l.Invalidate()
	close(src.gate)
	require.NoError(t, <-done)

	_, ok, err := l.Lookup(context.Background(), "lg-103")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(2), src.calls.Load(), "stale load was not cached")
}

func TestLoader_Lookup(t *testing.T) {
	l := NewLoader(EmbeddedSource{}, nil)

	it, ok, err := l.Lookup(context.Background(), "lg-103")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "洗濯機", it.Name)

	_, ok, err = l.Lookup(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParse_SortsByOrder(t *testing.T) {
	cats, err := Parse([]byte(`[
		{"id":"b","sortOrder":2,"items":[]},
		{"id":"a","sortOrder":1,"items":[{"id":"y","sortOrder":2},{"id":"x","sortOrder":1}]}
	]`))
	require.NoError(t, err)
	assert.Equal(t, "a", cats[0].ID)
	assert.Equal(t, "x", cats[0].Items[0].ID)
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	assert.Error(t, err)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/luggage-data.json" {
			http.NotFound(w, r)
			return
		}
		w.Write(defaultData)
	}))
	defer srv.Close()

	l := NewLoader(HTTPSource{URL: srv.URL + "/json/luggage-data.json"}, nil)
	cats, err := l.Categories(context.Background())
	require.NoError(t, err)
	assert.Len(t, cats, 3)

	_, err = HTTPSource{URL: srv.URL + "/missing"}.Fetch(context.Background())
	assert.Error(t, err)
}

func TestWatch_InvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "luggage-data.json")
	require.NoError(t, os.WriteFile(path, defaultData, 0o644))

	l := NewLoader(FileSource{Path: path}, nil)
	cats, err := l.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Watch(ctx, l, path)
	}()
	defer func() {
		cancel()
		<-done
	}()

	updated := []byte(`[{"id":"only","code":"only","name":"唯一","sortOrder":1,"items":[]}]`)
	assert.Eventually(t, func() bool {
		os.WriteFile(path, updated, 0o644)
		cats, err := l.Categories(context.Background())
		return err == nil && len(cats) == 1
	}, 3*time.Second, 50*time.Millisecond)
}
