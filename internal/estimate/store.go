package estimate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/storage"
)

var (
	// ErrNoRecord is returned by Load when nothing has been persisted.
	ErrNoRecord = errors.New("estimate: no saved form")
	// ErrCorruptRecord is returned by Load when the saved form cannot be read.
	// The bad record has already been discarded.
	ErrCorruptRecord = errors.New("estimate: saved form is corrupt")
)

// RestoreOutcome is what RestoreOrInitialize did.
type RestoreOutcome int

const (
	// Initialized means the form starts empty.
	Initialized RestoreOutcome = iota
	// InitializedWithSample means the form starts with sample data.
	InitializedWithSample
	// RestoredSilently means the saved form was loaded without asking.
	RestoredSilently
	// RestorePrompt means a saved form exists and the user must choose.
	RestorePrompt
)

func (o RestoreOutcome) String() string {
	switch o {
	case Initialized:
		return "initialized"
	case InitializedWithSample:
		return "initialized_with_sample"
	case RestoredSilently:
		return "restored_silently"
	case RestorePrompt:
		return "restore_prompt"
	}
	return fmt.Sprintf("RestoreOutcome(%d)", int(o))
}

// SampleFunc produces a prefilled record for local development.
type SampleFunc func(ctx context.Context) (*Record, error)

// Store owns the in-memory form record and mirrors it into session storage
// after every mutation. A Store is used by one request or connection at a
// time; callers serialize access per session.
type Store struct {
	storage   Storage
	tracker   *Tracker
	validator *Validator
	sample    SampleFunc
	logger    *zap.Logger

	record         *Record
	errors         Errors
	restorePending bool
	submitting     *atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithValidator replaces the default validator.
func WithValidator(v *Validator) Option { return func(s *Store) { s.validator = v } }

// WithTracker replaces the default page tracker.
func WithTracker(t *Tracker) Option { return func(s *Store) { s.tracker = t } }

// WithSample prefills fresh forms.
func WithSample(f SampleFunc) Option { return func(s *Store) { s.sample = f } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l } }

// WithSubmitFlag shares the submission-in-progress flag, normally one per
// session, so concurrent requests see each other's submissions.
func WithSubmitFlag(flag *atomic.Bool) Option { return func(s *Store) { s.submitting = flag } }

// NewStore creates a Store over st holding an empty record.
func NewStore(st Storage, opts ...Option) *Store {
	s := &Store{
		storage: st,
		record:  NewRecord(),
		errors:  Errors{},
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.validator == nil {
		s.validator = NewValidator(nil)
	}
	if s.tracker == nil {
		s.tracker = NewTracker(st, nil, s.logger)
	}
	if s.submitting == nil {
		s.submitting = new(atomic.Bool)
	}
	return s
}

// Record returns a copy of the current record.
func (s *Store) Record() *Record { return s.record.Clone() }

// Errors returns a copy of the current error map.
func (s *Store) Errors() Errors {
	out := make(Errors, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

// Error returns the message for f, "" when none.
func (s *Store) Error(f Field) string { return s.errors[f] }

// Tracker returns the page tracker bound to the same storage.
func (s *Store) Tracker() *Tracker { return s.tracker }

// Validator returns the validator in use.
func (s *Store) Validator() *Validator { return s.validator }

// RestorePending reports whether a saved form is waiting for the user's
// restore decision.
func (s *Store) RestorePending() bool { return s.restorePending }

// Submitting reports whether a submission is in flight.
func (s *Store) Submitting() bool { return s.submitting.Load() }

// BeginSubmit marks a submission as started. It returns false when one is
// already in flight.
func (s *Store) BeginSubmit() bool { return s.submitting.CompareAndSwap(false, true) }

// EndSubmit clears the in-flight mark.
func (s *Store) EndSubmit() { s.submitting.Store(false) }

// UpdateField writes value into f, applies the field invariants, persists
// the record and clears the errors of every touched field.
func (s *Store) UpdateField(ctx context.Context, f Field, value string) error {
	touched, err := s.record.Set(f, value)
	if err != nil {
		return err
	}
	for _, t := range touched {
		delete(s.errors, t)
	}
	return s.Persist(ctx)
}

// UpdateInventoryQuantity sets the quantity of item. A new item is appended;
// an existing line keeps its position.
func (s *Store) UpdateInventoryQuantity(ctx context.Context, item LuggageLine, quantity int) error {
	if quantity < 0 {
		return ErrNegativeQuantity
	}
	item.Quantity = quantity
	found := false
	for i := range s.record.Luggage {
		if s.record.Luggage[i].ID == item.ID {
			s.record.Luggage[i].Quantity = quantity
			found = true
			break
		}
	}
	if !found {
		s.record.Luggage = append(s.record.Luggage, item)
	}
	return s.Persist(ctx)
}

// Persist writes the record to storage.
func (s *Store) Persist(ctx context.Context) error {
	raw, err := json.Marshal(s.record)
	if err != nil {
		return fmt.Errorf("encoding form: %w", err)
	}
	if err := s.storage.Set(ctx, KeyFormData, raw); err != nil {
		return fmt.Errorf("saving form: %w", err)
	}
	return nil
}

func (s *Store) read(ctx context.Context) (*Record, error) {
	raw, err := s.storage.Get(ctx, KeyFormData)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, fmt.Errorf("reading form: %w", err)
	}
	rec := NewRecord()
	if err := json.Unmarshal(raw, rec); err != nil {
		s.logger.Warn("discarding corrupt form", zap.Error(err))
		if rerr := s.storage.Remove(ctx, KeyFormData); rerr != nil {
			s.logger.Warn("removing corrupt form", zap.Error(rerr))
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return rec, nil
}

// RestoreOrInitialize decides how the entry screen starts. The saved form is
// restored silently when returning is set or when the one-shot returning flag
// left by the confirmation page's edit action is set. Otherwise a saved form
// with data asks the user first. Page history alone never skips the prompt.
// Without a saved form the record starts empty, or with sample data when a
// SampleFunc is configured.
func (s *Store) RestoreOrInitialize(ctx context.Context, returning bool) (RestoreOutcome, error) {
	s.errors = Errors{}
	s.restorePending = false

	if s.tracker.TakeReturning(ctx) {
		returning = true
	}

	rec, err := s.read(ctx)
	switch {
	case errors.Is(err, ErrNoRecord), errors.Is(err, ErrCorruptRecord):
		return s.initialize(ctx)
	case err != nil:
		return Initialized, err
	}

	if returning {
		s.record = rec
		return RestoredSilently, nil
	}
	if rec.HasData() {
		s.record = rec
		s.restorePending = true
		return RestorePrompt, nil
	}
	s.record = NewRecord()
	return Initialized, nil
}

func (s *Store) initialize(ctx context.Context) (RestoreOutcome, error) {
	if s.sample != nil {
		rec, err := s.sample(ctx)
		if err != nil {
			s.logger.Warn("building sample form", zap.Error(err))
		} else {
			s.record = rec
			return InitializedWithSample, nil
		}
	}
	s.record = NewRecord()
	return Initialized, nil
}

// AcceptRestore keeps the saved form. The next entry visit restores it
// without asking.
func (s *Store) AcceptRestore(ctx context.Context) error {
	rec, err := s.read(ctx)
	if err != nil {
		return err
	}
	s.record = rec
	s.restorePending = false
	return s.tracker.MarkReturning(ctx)
}

// DeclineRestore discards the saved form and starts empty.
func (s *Store) DeclineRestore(ctx context.Context) error {
	s.record = NewRecord()
	s.errors = Errors{}
	s.restorePending = false
	return s.storage.Remove(ctx, KeyFormData)
}

// Reset clears the record, the errors and storage. The submitting flag is
// left to the submission that owns it.
func (s *Store) Reset(ctx context.Context) error {
	s.record = NewRecord()
	s.errors = Errors{}
	s.restorePending = false
	return s.storage.Remove(ctx, KeyFormData)
}

// Discard removes the saved form and the navigation history after a
// completed submission.
func (s *Store) Discard(ctx context.Context) error {
	s.record = NewRecord()
	s.errors = Errors{}
	return errors.Join(s.storage.Remove(ctx, KeyFormData), s.tracker.Clear(ctx))
}

// Load reads the saved form into the store. It is how the confirmation page
// and the submission see the record.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	rec, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	s.record = rec
	return rec.Clone(), nil
}

// ValidateField runs the rule for f and records the outcome.
func (s *Store) ValidateField(f Field) bool {
	msg := s.validator.CheckField(s.record, f)
	if msg == "" {
		delete(s.errors, f)
		return true
	}
	s.errors[f] = msg
	return false
}

// ValidateForm runs every rule, replaces the outcome of each ruled field in
// the error map and returns the first failing field.
func (s *Store) ValidateForm() (bool, Field) {
	rep := s.validator.CheckForm(s.record)
	for _, f := range rep.Cleared {
		delete(s.errors, f)
	}
	for f, msg := range rep.Errors {
		s.errors[f] = msg
	}
	return rep.Valid(), rep.First
}

// ApplyFields writes a batch of posted values in form order. Values for
// inactive or locked fields are ignored; the first other error stops the
// batch.
func (s *Store) ApplyFields(ctx context.Context, values map[Field]string) error {
	for _, f := range Fields {
		v, ok := values[f]
		if !ok {
			continue
		}
		if cur, _ := s.record.Get(f); cur == v {
			continue
		}
		touched, err := s.record.Set(f, v)
		switch {
		case errors.Is(err, ErrFieldInactive), errors.Is(err, ErrFloorLocked):
			continue
		case err != nil:
			return err
		}
		for _, t := range touched {
			delete(s.errors, t)
		}
	}
	return s.Persist(ctx)
}

// LuggageTotal sums the selected quantities.
func (s *Store) LuggageTotal() int {
	n := 0
	for _, l := range s.record.Luggage {
		n += l.Quantity
	}
	return n
}

// trimmed reports the record field value without surrounding spaces.
func trimmed(r *Record, f Field) string {
	v, _ := r.Get(f)
	return strings.TrimSpace(v)
}
