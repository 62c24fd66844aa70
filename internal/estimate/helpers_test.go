package estimate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/movebid/quoteform/internal/backend"
	"github.com/movebid/quoteform/internal/catalog"
	"github.com/movebid/quoteform/internal/event"
	"github.com/movebid/quoteform/internal/storage"
)

var (
	jst     = time.FixedZone("JST", 9*60*60)
	testNow = time.Date(2026, 10, 16, 10, 0, 0, 0, jst)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: testNow} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	backing *storage.MemoryStore
	scoped  *storage.Scoped
	clock   *clock
	store   *Store
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		backing: storage.NewMemoryStore(),
		clock:   newClock(),
	}
	f.scoped = storage.Scope(f.backing, "session-1")
	base := []Option{
		WithValidator(NewValidator(f.clock.Now)),
		WithTracker(NewTracker(f.scoped, f.clock.Now, nil)),
	}
	f.store = NewStore(f.scoped, append(base, opts...)...)
	return f
}

// saved returns the persisted record, nil when absent.
func (f *fixture) saved(t *testing.T) *Record {
	t.Helper()
	raw, err := f.scoped.Get(context.Background(), KeyFormData)
	if err != nil {
		return nil
	}
	rec := NewRecord()
	if err := rec.UnmarshalJSON(raw); err != nil {
		t.Fatalf("decoding saved form: %v", err)
	}
	return rec
}

func (f *fixture) save(t *testing.T, rec *Record) {
	t.Helper()
	raw, err := rec.MarshalJSON()
	if err != nil {
		t.Fatalf("encoding form: %v", err)
	}
	if err := f.scoped.Set(context.Background(), KeyFormData, raw); err != nil {
		t.Fatalf("saving form: %v", err)
	}
}

var testCatalog = []catalog.Category{
	{ID: "cat-furniture", Code: "furniture", Name: "家具", Items: []catalog.Item{
		{ID: "lg-001", Name: "ベッド", SubLabel: "シングル"},
		{ID: "lg-002", Name: "ベッド", SubLabel: "ダブル以上"},
		{ID: "lg-003", Name: "ソファ"},
		{ID: "lg-004", Name: "ダイニングテーブル"},
	}},
	{ID: "cat-appliance", Code: "appliance", Name: "家電", Items: []catalog.Item{
		{ID: "lg-103", Name: "洗濯機"},
	}},
}

type staticCatalog []catalog.Category

func (c staticCatalog) Categories(context.Context) ([]catalog.Category, error) { return c, nil }

func (c staticCatalog) Lookup(_ context.Context, id string) (catalog.Item, bool, error) {
	for _, cat := range c {
		for _, it := range cat.Items {
			if it.ID == id {
				return it, true, nil
			}
		}
	}
	return catalog.Item{}, false, nil
}

// validRecord is a complete form relative to testNow.
func validRecord() *Record {
	return SampleRecord(testNow, testCatalog)
}

type fakeSubmitter struct {
	mu       sync.Mutex
	resp     backend.EstimateResponse
	err      error
	calls    int
	payloads []Payload
}

func (s *fakeSubmitter) SubmitEstimate(_ context.Context, payload any) (backend.EstimateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.payloads = append(s.payloads, payload.(Payload))
	return s.resp, s.err
}

func successResponse(id string) backend.EstimateResponse {
	var r backend.EstimateResponse
	r.Success = true
	r.Data.Estimate.ID = backend.ID(id)
	return r
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}
