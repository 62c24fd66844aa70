package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/estimate"
	"github.com/movebid/quoteform/internal/event"
	"github.com/movebid/quoteform/internal/session"
	"github.com/movebid/quoteform/internal/web"
)

// EstimateConfig holds the collaborators of EstimateHandler.
type EstimateConfig struct {
	Forms     *Forms
	Submitter estimate.Submitter
	Events    event.Publisher
	Renderer  *web.Renderer
	Logger    *zap.Logger
	// DevFallback answers a failed submission with a local estimate id.
	DevFallback bool
}

// EstimateHandler serves the entry, confirmation and submission pages.
type EstimateHandler struct {
	forms     *Forms
	present   presenter
	submitter estimate.Submitter
	events    event.Publisher
	render    *web.Renderer
	logger    *zap.Logger
	fallback  bool
}

// NewEstimateHandler creates an EstimateHandler.
func NewEstimateHandler(cfg EstimateConfig) *EstimateHandler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = event.Discard{}
	}
	return &EstimateHandler{
		forms:     cfg.Forms,
		present:   presenter{options: cfg.Forms.Options, catalog: cfg.Forms.Catalog, now: cfg.Forms.now},
		submitter: cfg.Submitter,
		events:    cfg.Events,
		render:    cfg.Renderer,
		logger:    cfg.Logger,
		fallback:  cfg.DevFallback,
	}
}

func (h *EstimateHandler) controller(form *estimate.Store, s *session.Session, step estimate.Step) *estimate.Controller {
	return estimate.NewController(form, estimate.ControllerConfig{
		Submitter:   h.submitter,
		Catalog:     h.forms.Catalog,
		Events:      h.events,
		Logger:      h.logger,
		DevFallback: h.fallback,
		Now:         h.forms.now,
	}, s.ID, step)
}

func (h *EstimateHandler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, zap.Error(err), zap.String("request_id", RequestIDFrom(r.Context())))
	h.render.Render(w, http.StatusInternalServerError, web.PageError, web.ErrorView{
		Title:   "エラーが発生しました",
		Message: estimate.MsgServerError,
	})
}

func (h *EstimateHandler) renderEntry(w http.ResponseWriter, r *http.Request, status int, form *estimate.Store, first estimate.Field, notice string) {
	view, err := h.present.entry(r.Context(), form, first)
	if err != nil {
		h.logger.Warn("loading luggage catalog", zap.Error(err))
	}
	view.Notice = notice
	h.render.Render(w, status, web.PageEntry, view)
}

// HandleEntry shows the entry form.
// GET /estimate
func (h *EstimateHandler) HandleEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := session.FromContext(ctx)
	s.Lock()
	defer s.Unlock()

	form := h.forms.Open(s)
	if r.URL.Query().Get("from") == "confirmation" {
		// Keep the silent restore for the clean URL.
		if err := form.Tracker().MarkReturning(ctx); err != nil {
			h.serverError(w, r, "marking return from confirmation", err)
			return
		}
		seeOther(w, r, estimate.PathEntry)
		return
	}

	roundTrip := form.Tracker().IsReturningFromConfirmation(ctx)
	outcome, err := form.RestoreOrInitialize(ctx, false)
	if err != nil {
		h.serverError(w, r, "restoring form", err)
		return
	}
	if outcome == estimate.InitializedWithSample {
		if err := form.Persist(ctx); err != nil {
			h.logger.Warn("saving sample form", zap.Error(err))
		}
	}
	if err := form.Tracker().TrackVisit(ctx, estimate.PathEntry); err != nil {
		h.logger.Warn("tracking visit", zap.Error(err))
	}
	h.events.Publish(ctx, event.NewFormRestored(s.ID, event.FormRestoredPayload{
		Outcome:   outcome.String(),
		RoundTrip: roundTrip,
	}))

	view, err := h.present.entry(ctx, form, "")
	if err != nil {
		h.logger.Warn("loading luggage catalog", zap.Error(err))
	}
	view.Sample = outcome == estimate.InitializedWithSample
	h.render.Render(w, http.StatusOK, web.PageEntry, view)
}

// HandleConfirm applies every posted field, validates the form and moves to
// the confirmation page.
// POST /estimate
func (h *EstimateHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	ctx := r.Context()
	s := session.FromContext(ctx)
	s.Lock()
	defer s.Unlock()

	form, err := h.forms.Load(ctx, s)
	if err != nil {
		h.serverError(w, r, "loading form", err)
		return
	}

	if err := form.ApplyFields(ctx, postedFields(r.PostForm)); err != nil {
		if errors.Is(err, estimate.ErrInvalidMode) || errors.Is(err, estimate.ErrUnknownField) {
			h.renderEntry(w, r, http.StatusUnprocessableEntity, form, "", "入力内容を確認してください")
			return
		}
		h.serverError(w, r, "applying fields", err)
		return
	}
	for id, raw := range postedQuantities(r.PostForm) {
		qty, err := strconv.Atoi(raw)
		if err != nil || qty < 0 || qty == form.Record().Quantity(id) {
			continue
		}
		if err := h.forms.SetQuantity(ctx, form, id, qty); err != nil {
			h.logger.Debug("skipping posted quantity", zap.String("item", id), zap.Error(err))
		}
	}

	ok, first, err := h.controller(form, s, estimate.StepEntry).Confirm(ctx)
	if err != nil {
		h.serverError(w, r, "confirming form", err)
		return
	}
	if !ok {
		h.renderEntry(w, r, http.StatusUnprocessableEntity, form, first, "")
		return
	}
	seeOther(w, r, estimate.PathConfirmation)
}

type fieldRequest struct {
	Field    string `json:"field"`
	Value    string `json:"value"`
	Validate bool   `json:"validate"`
}

type fieldResponse struct {
	Field   string       `json:"field"`
	Error   string       `json:"error,omitempty"`
	Cleared []string     `json:"cleared"`
	Address *AddressFill `json:"address,omitempty"`
	State   State        `json:"state"`
}

func fieldNames(fs []estimate.Field) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, string(f))
	}
	return out
}

// HandleField updates one field and optionally validates it.
// POST /estimate/field
func (h *EstimateHandler) HandleField(w http.ResponseWriter, r *http.Request) {
	var req fieldRequest
	if isJSON(r) {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
			return
		}
	} else {
		if !parseForm(w, r) {
			return
		}
		req.Field, req.Value = r.PostForm.Get("field"), r.PostForm.Get("value")
		req.Validate = r.PostForm.Get("validate") == "true"
	}

	ctx := r.Context()
	s := session.FromContext(ctx)
	s.Lock()
	defer s.Unlock()

	form, err := h.forms.Load(ctx, s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load form")
		return
	}
	field := estimate.Field(req.Field)
	up, err := h.forms.Update(ctx, form, field, req.Value)
	switch {
	case errors.Is(err, estimate.ErrUnknownField):
		writeError(w, http.StatusBadRequest, "UNKNOWN_FIELD", "unknown field: "+req.Field)
		return
	case errors.Is(err, estimate.ErrInvalidMode):
		writeError(w, http.StatusBadRequest, "INVALID_VALUE", "invalid value for "+req.Field)
		return
	case errors.Is(err, estimate.ErrFieldInactive), errors.Is(err, estimate.ErrFloorLocked):
		writeError(w, http.StatusConflict, "FIELD_DISABLED", err.Error())
		return
	case err != nil:
		h.logger.Error("updating field", zap.String("field", req.Field), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to save form")
		return
	}

	resp := fieldResponse{Field: req.Field, Cleared: fieldNames(up.Touched), Address: up.Address}
	if req.Validate {
		form.ValidateField(field)
		resp.Error = form.Error(field)
	}
	resp.State = Snapshot(form)
	writeJSON(w, http.StatusOK, resp)
}

type luggageRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

// HandleLuggage sets the quantity of one catalog item.
// POST /estimate/luggage
func (h *EstimateHandler) HandleLuggage(w http.ResponseWriter, r *http.Request) {
	var req luggageRequest
	if isJSON(r) {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
			return
		}
	} else {
		if !parseForm(w, r) {
			return
		}
		req.ID = r.PostForm.Get("id")
		n, err := strconv.Atoi(r.PostForm.Get("quantity"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUANTITY", "quantity must be an integer")
			return
		}
		req.Quantity = n
	}

	ctx := r.Context()
	s := session.FromContext(ctx)
	s.Lock()
	defer s.Unlock()

	form, err := h.forms.Load(ctx, s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to load form")
		return
	}
	err = h.forms.SetQuantity(ctx, form, req.ID, req.Quantity)
	switch {
	case errors.Is(err, ErrUnknownItem):
		writeError(w, http.StatusNotFound, "UNKNOWN_ITEM", "unknown luggage item: "+req.ID)
		return
	case errors.Is(err, estimate.ErrNegativeQuantity):
		writeError(w, http.StatusBadRequest, "INVALID_QUANTITY", "quantity must not be negative")
		return
	case err != nil:
		h.logger.Error("updating quantity", zap.String("item", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", "failed to save form")
		return
	}
	writeJSON(w, http.StatusOK, Snapshot(form))
}

// HandleRestore answers the restore prompt.
// POST /estimate/restore
func (h *EstimateHandler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	ctx := r.Context()
	s := session.FromContext(ctx)
	s.Lock()
	defer s.Unlock()

	form := h.forms.Open(s)
	var err error
	switch r.PostForm.Get("action") {
	case "accept":
		err = form.AcceptRestore(ctx)
		if errors.Is(err, estimate.ErrNoRecord) || errors.Is(err, estimate.ErrCorruptRecord) {
			err = nil
		}
	case "decline":
		err = form.DeclineRestore(ctx)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.serverError(w, r, "answering restore prompt", err)
		return
	}
	seeOther(w, r, estimate.PathEntry)
}

// HandleReset clears the form.
// POST /estimate/reset
func (h *EstimateHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := session.FromContext(ctx)
	s.Lock()
	defer s.Unlock()

	if err := h.forms.Open(s).Reset(ctx); err != nil {
		h.serverError(w, r, "resetting form", err)
		return
	}
	seeOther(w, r, estimate.PathEntry)
}

// HandleConfirmation shows the saved form read-only. Without a saved form
// the customer is sent back to the entry page.
// GET /estimate/confirmation
func (h *EstimateHandler) HandleConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := session.FromContext(ctx)
	s.Lock()
	defer s.Unlock()

	form := h.forms.Open(s)
	rec, err := form.Load(ctx)
	if errors.Is(err, estimate.ErrNoRecord) || errors.Is(err, estimate.ErrCorruptRecord) {
		seeOther(w, r, estimate.PathEntry)
		return
	}
	if err != nil {
		h.serverError(w, r, "loading form", err)
		return
	}
	if err := form.Tracker().TrackVisit(ctx, estimate.PathConfirmation); err != nil {
		h.logger.Warn("tracking visit", zap.Error(err))
	}
	h.render.Render(w, http.StatusOK, web.PageConfirmation, h.present.confirmation(ctx, rec))
}

// HandleEdit returns from the confirmation page to the entry form.
// POST /estimate/confirmation/edit
func (h *EstimateHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := session.FromContext(ctx)
	s.Lock()
	defer s.Unlock()

	target, err := h.controller(h.forms.Open(s), s, estimate.StepConfirmation).Edit(ctx)
	if err != nil {
		h.serverError(w, r, "returning to entry", err)
		return
	}
	seeOther(w, r, target)
}

func submissionStatus(kind estimate.ErrorKind) int {
	switch kind {
	case estimate.KindValidation:
		return http.StatusUnprocessableEntity
	case estimate.KindInProgress, estimate.KindState:
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

// HandleSubmit sends the saved form to the backend. The session lock is not
// held across the backend call; the session's submit flag rejects a second
// concurrent submission instead.
// POST /estimate/submit
func (h *EstimateHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := session.FromContext(ctx)
	form := h.forms.Open(s)

	start := time.Now()
	res, err := h.controller(form, s, estimate.StepConfirmation).Submit(ctx)
	if err == nil {
		h.logger.Info("estimate submitted",
			zap.String("estimate_id", res.EstimateID),
			zap.Bool("fallback", res.Fallback),
			zap.Duration("elapsed", time.Since(start)))
		seeOther(w, r, res.RedirectTarget)
		return
	}

	var se *estimate.SubmissionError
	if !errors.As(err, &se) {
		h.serverError(w, r, "submitting estimate", err)
		return
	}
	if se.Kind == estimate.KindNoRecord {
		seeOther(w, r, estimate.PathEntry)
		return
	}

	rec, lerr := form.Load(ctx)
	if lerr != nil {
		seeOther(w, r, estimate.PathEntry)
		return
	}
	view := h.present.confirmation(ctx, rec)
	view.Banner = se.Message
	view.Details = se.Details
	h.render.Render(w, submissionStatus(se.Kind), web.PageConfirmation, view)
}

// HandleThanks shows the submitted estimate id.
// GET /estimate/thanks
func (h *EstimateHandler) HandleThanks(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, http.StatusOK, web.PageThanks, web.ThanksView{
		EstimateID: r.URL.Query().Get("id"),
	})
}
