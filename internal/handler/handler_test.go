package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/movebid/quoteform/internal/backend"
	"github.com/movebid/quoteform/internal/catalog"
	"github.com/movebid/quoteform/internal/estimate"
	"github.com/movebid/quoteform/internal/event"
	"github.com/movebid/quoteform/internal/options"
	"github.com/movebid/quoteform/internal/postal"
	"github.com/movebid/quoteform/internal/session"
	"github.com/movebid/quoteform/internal/storage"
	"github.com/movebid/quoteform/internal/web"
)

var (
	jst     = time.FixedZone("JST", 9*60*60)
	testNow = time.Date(2026, 10, 16, 10, 0, 0, 0, jst)
)

type fakePostal map[string]*postal.Address

func (f fakePostal) Lookup(_ context.Context, zip string) (*postal.Address, error) {
	return f[zip], nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	resp     backend.EstimateResponse
	err      error
	payloads []estimate.Payload
}

func (s *fakeSubmitter) SubmitEstimate(_ context.Context, payload any) (backend.EstimateResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload.(estimate.Payload))
	return s.resp, s.err
}

func (s *fakeSubmitter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
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
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

func successResponse(id string) backend.EstimateResponse {
	var r backend.EstimateResponse
	r.Success = true
	r.Data.Estimate.ID = backend.ID(id)
	return r
}

type harness struct {
	srv    *httptest.Server
	client *http.Client
	sub    *fakeSubmitter
	events *recordingPublisher
	forms  *Forms
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	render, err := web.NewRenderer(nil)
	require.NoError(t, err)

	h := &harness{
		sub:    &fakeSubmitter{resp: successResponse("42")},
		events: &recordingPublisher{},
	}
	h.forms = &Forms{
		Catalog: catalog.NewLoader(catalog.EmbeddedSource{}, nil),
		Options: options.MustLoad(),
		Postal: fakePostal{
			"150-0002": {Prefecture: "東京都", City: "渋谷区", Town: "渋谷"},
		},
		Now: func() time.Time { return testNow },
	}
	est := NewEstimateHandler(EstimateConfig{
		Forms:     h.forms,
		Submitter: h.sub,
		Events:    h.events,
		Renderer:  render,
	})
	api := NewAPIHandler(h.forms.Catalog, h.forms.Options, h.forms.Postal, nil)

	sessions := session.NewManager(storage.NewMemoryStore(), 24*time.Hour, 30*time.Minute, nil)
	r := chi.NewRouter()
	r.Use(RequestID, sessions.Middleware(false))
	r.Get("/estimate", est.HandleEntry)
	r.Post("/estimate", est.HandleConfirm)
	r.Post("/estimate/field", est.HandleField)
	r.Post("/estimate/luggage", est.HandleLuggage)
	r.Post("/estimate/restore", est.HandleRestore)
	r.Post("/estimate/reset", est.HandleReset)
	r.Get("/estimate/confirmation", est.HandleConfirmation)
	r.Post("/estimate/confirmation/edit", est.HandleEdit)
	r.Post("/estimate/submit", est.HandleSubmit)
	r.Get("/estimate/thanks", est.HandleThanks)
	r.Get("/api/luggage", api.HandleLuggage)
	r.Get("/api/options", api.HandleOptions)
	r.Get("/api/postal/{zipcode}", api.HandlePostal)

	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	h.client = &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return h
}

func (h *harness) do(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (h *harness) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	require.NoError(t, err)
	return h.do(t, req)
}

func (h *harness) postForm(t *testing.T, path string, v url.Values) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, strings.NewReader(v.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(t, req)
}

func (h *harness) postJSON(t *testing.T, path string, body any, out any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, text := h.do(t, req)
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(text), out), "body: %s", text)
	}
	return resp
}

// validForm is a complete entry form as a browser posts it.
func validForm() url.Values {
	return url.Values{
		"name":                {"田中 太郎"},
		"nameFurigana":        {"タナカ タロウ"},
		"phone":               {"090-1234-5678"},
		"email":               {"test@example.com"},
		"fromZipcode":         {"1500002"},
		"fromPrefecture":      {"東京都渋谷区渋谷"},
		"fromStreetAddress":   {"1-2-3"},
		"fromBuildingDetails": {"渋谷ビル 101号室"},
		"fromBuildingType":    {"mansion"},
		"fromRoomLayout":      {"2LDK"},
		"fromFloor":           {"5"},
		"fromElevator":        {"yes"},
		"toZipcode":           {"220-0011"},
		"toPrefecture":        {"神奈川県横浜市西区みなとみらい"},
		"toStreetAddress":     {"2-2-1"},
		"toBuildingType":      {"mansion"},
		"toRoomLayout":        {"3LDK"},
		"toFloor":             {"8"},
		"toElevator":          {"yes"},
		"peopleCount":         {"3"},
		"movingDateType":      {"decided"},
		"movingSpecificDate":  {"2026-11-15"},
		"workStartTimeType":   {"specific"},
		"workStartTime":       {"morning"},
		"luggage.lg-001":      {"1"},
		"luggage.lg-103":      {"2"},
		"luggage.lg-999":      {"5"},
	}
}

func parseHTML(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	require.NoError(t, err)
	return doc
}

func findNode(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attrOf(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// input returns the element named name, nil when absent.
func input(doc *html.Node, name string) *html.Node {
	return findNode(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && attrOf(n, "name") == name
	})
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
