package estimate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/backend"
	"github.com/movebid/quoteform/internal/catalog"
	"github.com/movebid/quoteform/internal/event"
)

// Step is a screen of the estimate flow.
type Step string

const (
	StepEntry            Step = "entry"
	StepConfirmation     Step = "confirmation"
	StepSubmitting       Step = "submitting"
	StepSubmitted        Step = "submitted"
	StepSubmissionFailed Step = "submission_failed"
)

var stepTransitions = map[string][]string{
	string(StepEntry):            {string(StepConfirmation)},
	string(StepConfirmation):     {string(StepEntry), string(StepSubmitting)},
	string(StepSubmitting):       {string(StepSubmitted), string(StepSubmissionFailed)},
	string(StepSubmissionFailed): {string(StepSubmitting), string(StepEntry)},
	string(StepSubmitted):        {},
}

// ValidateTransition checks whether transitioning from current to target is
// allowed according to the given transition map. It returns nil if the
// transition is valid, or a descriptive error otherwise.
func ValidateTransition(transitions map[string][]string, current, target string) error {
	allowed, ok := transitions[current]
	if !ok {
		return fmt.Errorf("unknown current state: %s", current)
	}
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return fmt.Errorf("transition from %q to %q is not allowed", current, target)
}

// Routes the controller redirects to.
const (
	EditTarget   = PathEntry + "?from=confirmation"
	ThanksTarget = "/estimate/thanks"
)

// Submission messages shown to the customer.
const (
	MsgValidationFailed = "バリデーションエラー"
	MsgServerError      = "サーバーエラーが発生しました。しばらく時間をおいて再度お試しください。"
	MsgInProgress       = "送信処理中です。しばらくお待ちください。"
)

// ErrorKind classifies a failed submission.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNetwork    ErrorKind = "network"
	KindRejected   ErrorKind = "rejected"
	KindMalformed  ErrorKind = "malformed"
	KindInProgress ErrorKind = "in_progress"
	KindNoRecord   ErrorKind = "no_record"
	KindState      ErrorKind = "state"
)

// SubmissionError is returned by Submit. Message is safe to show.
type SubmissionError struct {
	Kind    ErrorKind
	Message string
	Details []string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("submission %s: %s", e.Kind, e.Message)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Submitted is the result of a successful submission.
type Submitted struct {
	EstimateID     string
	RedirectTarget string
	Fallback       bool
}

// Submitter sends the payload to the backend.
type Submitter interface {
	SubmitEstimate(ctx context.Context, payload any) (backend.EstimateResponse, error)
}

// ItemLookup resolves catalog items.
type ItemLookup interface {
	Lookup(ctx context.Context, id string) (catalog.Item, bool, error)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, evt event.DomainEvent)
}

// ControllerConfig holds the collaborators of a Controller.
type ControllerConfig struct {
	Submitter Submitter
	Catalog   ItemLookup
	Events    Publisher
	Logger    *zap.Logger
	// DevFallback answers a failed backend call with a locally generated id.
	DevFallback bool
	Now         func() time.Time
}

// Controller drives the entry → confirmation → submission flow for one
// session.
type Controller struct {
	form      *Store
	cfg       ControllerConfig
	sessionID string
	step      Step
}

// NewController returns a controller positioned at step.
func NewController(form *Store, cfg ControllerConfig, sessionID string, step Step) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = event.Discard{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{form: form, cfg: cfg, sessionID: sessionID, step: step}
}

// Step returns the current step.
func (c *Controller) Step() Step { return c.step }

func (c *Controller) transition(target Step) error {
	if err := ValidateTransition(stepTransitions, string(c.step), string(target)); err != nil {
		return err
	}
	c.step = target
	return nil
}

// Confirm validates the whole form. On success the record is persisted and
// the flow moves to the confirmation step; otherwise it stays on entry and
// returns the first failing field.
func (c *Controller) Confirm(ctx context.Context) (bool, Field, error) {
	if err := ValidateTransition(stepTransitions, string(c.step), string(StepConfirmation)); err != nil {
		return false, "", err
	}
	ok, first := c.form.ValidateForm()
	if !ok {
		return false, first, nil
	}
	if err := c.form.Persist(ctx); err != nil {
		return false, "", err
	}
	if err := c.transition(StepConfirmation); err != nil {
		return false, "", err
	}
	c.cfg.Events.Publish(ctx, event.NewFormConfirmed(c.sessionID, event.FormConfirmedPayload{
		LuggageLines: len(c.form.record.Luggage),
	}))
	return true, "", nil
}

// Edit returns to the entry step. The next entry visit restores the saved
// form without asking.
func (c *Controller) Edit(ctx context.Context) (string, error) {
	if err := c.transition(StepEntry); err != nil {
		return "", err
	}
	if err := c.form.Tracker().MarkReturning(ctx); err != nil {
		return "", err
	}
	return EditTarget, nil
}

// Submit sends the saved form to the backend. On success the saved form and
// the navigation history are cleared and the redirect target carries the new
// estimate id. Every failure is a *SubmissionError and leaves the customer on
// the confirmation step with the record intact.
func (c *Controller) Submit(ctx context.Context) (Submitted, error) {
	if err := c.transition(StepSubmitting); err != nil {
		return Submitted{}, &SubmissionError{Kind: KindState, Message: MsgServerError, Err: err}
	}
	if !c.form.BeginSubmit() {
		c.step = StepConfirmation
		return Submitted{}, &SubmissionError{Kind: KindInProgress, Message: MsgInProgress}
	}
	defer c.form.EndSubmit()

	res, err := c.submit(ctx)
	if err != nil {
		var se *SubmissionError
		if errors.As(err, &se) {
			c.cfg.Events.Publish(ctx, event.NewSubmissionFailed(c.sessionID, event.SubmissionFailedPayload{
				Kind:    string(se.Kind),
				Message: se.Message,
				Cause:   errString(se.Err),
			}))
		}
		c.step = StepSubmissionFailed
		return Submitted{}, err
	}
	c.step = StepSubmitted
	c.cfg.Events.Publish(ctx, event.NewEstimateSubmitted(c.sessionID, event.EstimateSubmittedPayload{
		EstimateID: res.EstimateID,
		Fallback:   res.Fallback,
	}))
	return res, nil
}

func (c *Controller) submit(ctx context.Context) (Submitted, error) {
	rec, err := c.form.Load(ctx)
	if err != nil {
		return Submitted{}, &SubmissionError{Kind: KindNoRecord, Message: MsgServerError, Err: err}
	}

	rep := c.form.Validator().CheckForm(rec)
	if !rep.Valid() {
		return Submitted{}, &SubmissionError{
			Kind:    KindValidation,
			Message: MsgValidationFailed,
			Details: rep.Messages(c.form.Validator().Order()),
		}
	}

	payload := BuildPayload(rec, c.known(ctx))
	if err := payload.Validate(); err != nil {
		return Submitted{}, &SubmissionError{Kind: KindValidation, Message: MsgValidationFailed, Err: err}
	}

	id, fallback, err := c.send(ctx, payload)
	if err != nil {
		return Submitted{}, err
	}

	if err := c.form.Discard(ctx); err != nil {
		c.cfg.Logger.Warn("clearing submitted form", zap.Error(err))
	}
	return Submitted{
		EstimateID:     id,
		RedirectTarget: ThanksTarget + "?id=" + url.QueryEscape(id),
		Fallback:       fallback,
	}, nil
}

func (c *Controller) send(ctx context.Context, payload Payload) (string, bool, error) {
	resp, err := c.cfg.Submitter.SubmitEstimate(ctx, payload)
	if err != nil {
		if c.cfg.DevFallback {
			id := "EST-" + strconv.FormatInt(c.cfg.Now().UnixMilli(), 10)
			c.cfg.Logger.Warn("backend unavailable, using fallback estimate id",
				zap.String("estimate_id", id), zap.Error(err))
			return id, true, nil
		}
		kind := KindNetwork
		if errors.Is(err, backend.ErrMalformedResponse) {
			kind = KindMalformed
		}
		c.cfg.Logger.Error("estimate submission failed", zap.Error(err))
		return "", false, &SubmissionError{Kind: kind, Message: MsgServerError, Err: err}
	}

	id := string(resp.Data.Estimate.ID)
	if !resp.Success || id == "" {
		c.cfg.Logger.Warn("estimate submission rejected",
			zap.Bool("success", resp.Success), zap.String("message", resp.Message))
		msg := MsgServerError
		if resp.Message != "" {
			msg = resp.Message
		}
		return "", false, &SubmissionError{Kind: KindRejected, Message: msg}
	}
	return id, false, nil
}

func (c *Controller) known(ctx context.Context) Known {
	if c.cfg.Catalog == nil {
		return nil
	}
	return func(id string) bool {
		_, ok, err := c.cfg.Catalog.Lookup(ctx, id)
		if err != nil {
			// Without a catalog the line is sent as is.
			return true
		}
		return ok
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
