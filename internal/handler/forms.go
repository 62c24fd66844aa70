package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/catalog"
	"github.com/movebid/quoteform/internal/estimate"
	"github.com/movebid/quoteform/internal/options"
	"github.com/movebid/quoteform/internal/postal"
	"github.com/movebid/quoteform/internal/session"
)

// Catalog is the luggage catalog as the handlers use it.
type Catalog interface {
	Categories(ctx context.Context) ([]catalog.Category, error)
	Lookup(ctx context.Context, id string) (catalog.Item, bool, error)
}

// AddressLookup resolves postal codes.
type AddressLookup interface {
	Lookup(ctx context.Context, zipcode string) (*postal.Address, error)
}

// ErrUnknownItem is returned for luggage ids missing from the catalog.
var ErrUnknownItem = errors.New("handler: unknown luggage item")

// Forms opens the form store of a session and applies edits to it. It is
// shared by the page handlers and the live channel.
type Forms struct {
	Catalog Catalog
	Options *options.Registry
	Postal  AddressLookup // nil disables address autofill
	Logger  *zap.Logger
	Now     func() time.Time
	// Sample prefills empty forms with development data.
	Sample bool
}

func (f *Forms) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}

func (f *Forms) logger() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

// Open returns an empty store bound to the session's storage.
func (f *Forms) Open(s *session.Session) *estimate.Store {
	st := s.Storage()
	opts := []estimate.Option{
		estimate.WithValidator(estimate.NewValidator(f.now)),
		estimate.WithTracker(estimate.NewTracker(st, f.now, f.logger())),
		estimate.WithSubmitFlag(s.SubmitFlag()),
		estimate.WithLogger(f.logger()),
	}
	if f.Sample && f.Catalog != nil {
		opts = append(opts, estimate.WithSample(estimate.SampleFrom(f.Catalog, f.now)))
	}
	return estimate.NewStore(st, opts...)
}

// Load opens the store and reads the saved record into it. A missing or
// corrupt record leaves the store empty.
func (f *Forms) Load(ctx context.Context, s *session.Session) (*estimate.Store, error) {
	form := f.Open(s)
	_, err := form.Load(ctx)
	if err != nil && !errors.Is(err, estimate.ErrNoRecord) && !errors.Is(err, estimate.ErrCorruptRecord) {
		return nil, err
	}
	return form, nil
}

// AddressFill is the result of a postal code lookup triggered by an edit.
type AddressFill struct {
	Side    string `json:"side"` // "from" or "to"
	Zipcode string `json:"zipcode"`
	Address string `json:"address"`
}

// FieldUpdate reports what one edit changed.
type FieldUpdate struct {
	Field   estimate.Field
	Touched []estimate.Field
	Address *AddressFill
}

// Update writes one field. Postal codes are formatted first and, once
// complete, looked up to fill the prefecture line. Lookup failures are
// logged and leave the address untouched.
func (f *Forms) Update(ctx context.Context, form *estimate.Store, field estimate.Field, value string) (FieldUpdate, error) {
	side, isZip := zipcodeSide(field)
	if isZip {
		value = postal.FormatZipcode(value)
	}
	before := form.Record()
	if err := form.UpdateField(ctx, field, value); err != nil {
		return FieldUpdate{}, err
	}
	up := FieldUpdate{Field: field, Touched: changedFields(before, form.Record())}
	if !isZip || !postal.IsValidZipcode(value) || f.Postal == nil {
		return up, nil
	}

	addr, err := f.Postal.Lookup(ctx, value)
	if err != nil {
		f.logger().Warn("postal lookup failed", zap.String("zipcode", value), zap.Error(err))
		return up, nil
	}
	if addr == nil {
		return up, nil
	}
	full := postal.FormatFullAddress(*addr)
	prefField := estimate.Field(side + "Prefecture")
	if err := form.UpdateField(ctx, prefField, full); err != nil {
		return up, err
	}
	up.Touched = append(up.Touched, prefField)
	up.Address = &AddressFill{Side: side, Zipcode: value, Address: full}
	return up, nil
}

// Line resolves a catalog item into a luggage line carrying its category
// code.
func (f *Forms) Line(ctx context.Context, id string) (estimate.LuggageLine, error) {
	cats, err := f.Catalog.Categories(ctx)
	if err != nil {
		return estimate.LuggageLine{}, err
	}
	for _, c := range cats {
		for _, it := range c.Items {
			if it.ID == id {
				return estimate.LuggageLine{ID: it.ID, Name: it.Name, SubLabel: it.SubLabel, Category: c.Code}, nil
			}
		}
	}
	return estimate.LuggageLine{}, ErrUnknownItem
}

// SetQuantity sets the quantity of a catalog item.
func (f *Forms) SetQuantity(ctx context.Context, form *estimate.Store, id string, qty int) error {
	line, err := f.Line(ctx, id)
	if err != nil {
		return err
	}
	return form.UpdateInventoryQuantity(ctx, line, qty)
}

// State is the client-visible snapshot of a form.
type State struct {
	Values       map[string]string `json:"values"`
	Luggage      map[string]int    `json:"luggage"`
	LuggageTotal int               `json:"luggageTotal"`
}

// Snapshot returns the current values of every field.
func Snapshot(form *estimate.Store) State {
	rec := form.Record()
	st := State{
		Values:       make(map[string]string, len(estimate.Fields)),
		Luggage:      make(map[string]int, len(rec.Luggage)),
		LuggageTotal: form.LuggageTotal(),
	}
	for _, fld := range estimate.Fields {
		v, _ := rec.Get(fld)
		st.Values[string(fld)] = v
	}
	for _, l := range rec.Luggage {
		st.Luggage[l.ID] = l.Quantity
	}
	return st
}

func zipcodeSide(f estimate.Field) (string, bool) {
	switch f {
	case estimate.FieldFromZipcode:
		return "from", true
	case estimate.FieldToZipcode:
		return "to", true
	}
	return "", false
}

// changedFields lists the fields whose values differ between two records.
func changedFields(a, b *estimate.Record) []estimate.Field {
	var out []estimate.Field
	for _, f := range estimate.Fields {
		va, _ := a.Get(f)
		vb, _ := b.Get(f)
		if va != vb {
			out = append(out, f)
		}
	}
	return out
}

// postedFields picks the form fields present in values.
func postedFields(values map[string][]string) map[estimate.Field]string {
	out := map[estimate.Field]string{}
	for _, f := range estimate.Fields {
		if v, ok := values[string(f)]; ok && len(v) > 0 {
			val := v[0]
			if _, zip := zipcodeSide(f); zip {
				val = postal.FormatZipcode(val)
			}
			out[f] = val
		}
	}
	return out
}

// postedQuantities picks the luggage.<id> quantity inputs.
func postedQuantities(values map[string][]string) map[string]string {
	out := map[string]string{}
	for k, v := range values {
		if id, ok := strings.CutPrefix(k, "luggage."); ok && id != "" && len(v) > 0 {
			out[id] = strings.TrimSpace(v[0])
		}
	}
	return out
}
