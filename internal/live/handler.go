package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/estimate"
	"github.com/movebid/quoteform/internal/handler"
	"github.com/movebid/quoteform/internal/postal"
	"github.com/movebid/quoteform/internal/session"
)

// Handler serves GET /estimate/live.
type Handler struct {
	forms   *handler.Forms
	origins []string
	logger  *zap.Logger
}

// NewHandler creates a live channel handler. origins are the accepted
// Origin host patterns; empty means same host only.
func NewHandler(forms *handler.Forms, origins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{forms: forms, origins: origins, logger: logger.Named("live")}
}

// ServeHTTP upgrades to a websocket and runs the message loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("websocket accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	logger := h.logger.With(zap.String("session", sess.ID))

	h.sendState(ctx, conn, sess, "")

	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				logger.Debug("connection closed", zap.Stringer("status", status))
			} else if ctx.Err() == nil {
				logger.Debug("read error", zap.Error(err))
			}
			return
		}
		sess.Touch()

		switch msg.Type {
		case "update":
			h.handleUpdate(ctx, conn, sess, msg)
		case "quantity":
			h.handleQuantity(ctx, conn, sess, msg)
		case "validate":
			h.handleValidate(ctx, conn, sess, msg)
		case "lookup":
			h.handleLookup(ctx, conn, msg)
		case "ping":
			h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		default:
			h.sendError(ctx, conn, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

// withForm runs fn on the session's saved form under the session lock.
func (h *Handler) withForm(ctx context.Context, sess *session.Session, fn func(*estimate.Store) error) error {
	sess.Lock()
	defer sess.Unlock()
	form, err := h.forms.Load(ctx, sess)
	if err != nil {
		return err
	}
	return fn(form)
}

func (h *Handler) sendState(ctx context.Context, conn *websocket.Conn, sess *session.Session, requestID string) {
	var st handler.State
	err := h.withForm(ctx, sess, func(form *estimate.Store) error {
		st = handler.Snapshot(form)
		return nil
	})
	if err != nil {
		h.sendError(ctx, conn, requestID, "storage_error", "failed to load form")
		return
	}
	h.send(ctx, conn, ServerMessage{Type: "state", RequestID: requestID, Data: st})
}

func fieldNames(fs []estimate.Field) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, string(f))
	}
	return out
}

// updateErrorCode maps an edit failure to a wire error code.
func updateErrorCode(err error) string {
	switch {
	case errors.Is(err, estimate.ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, estimate.ErrInvalidMode):
		return "invalid_value"
	case errors.Is(err, estimate.ErrFieldInactive), errors.Is(err, estimate.ErrFloorLocked):
		return "field_disabled"
	case errors.Is(err, handler.ErrUnknownItem):
		return "unknown_item"
	case errors.Is(err, estimate.ErrNegativeQuantity):
		return "invalid_quantity"
	}
	return "storage_error"
}

func (h *Handler) handleUpdate(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	var data UpdateData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Field == "" {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid update data")
		return
	}

	var (
		up handler.FieldUpdate
		st handler.State
	)
	err := h.withForm(ctx, sess, func(form *estimate.Store) error {
		var err error
		up, err = h.forms.Update(ctx, form, estimate.Field(data.Field), data.Value)
		st = handler.Snapshot(form)
		return err
	})
	if err != nil {
		h.sendError(ctx, conn, msg.ID, updateErrorCode(err), err.Error())
		return
	}

	h.send(ctx, conn, ServerMessage{Type: "state", RequestID: msg.ID, Data: st})
	h.send(ctx, conn, ServerMessage{Type: "errors", RequestID: msg.ID, Data: ErrorsData{
		Errors:  map[string]string{},
		Cleared: fieldNames(append([]estimate.Field{up.Field}, up.Touched...)),
	}})
	if up.Address != nil {
		h.send(ctx, conn, ServerMessage{Type: "address", RequestID: msg.ID, Data: *up.Address})
	}
}

func (h *Handler) handleQuantity(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	var data QuantityData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.ID == "" {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid quantity data")
		return
	}

	var st handler.State
	err := h.withForm(ctx, sess, func(form *estimate.Store) error {
		if err := h.forms.SetQuantity(ctx, form, data.ID, data.Quantity); err != nil {
			return err
		}
		st = handler.Snapshot(form)
		return nil
	})
	if err != nil {
		h.sendError(ctx, conn, msg.ID, updateErrorCode(err), err.Error())
		return
	}
	h.send(ctx, conn, ServerMessage{Type: "state", RequestID: msg.ID, Data: st})
}

func (h *Handler) handleValidate(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	var data ValidateData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Field == "" {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid validate data")
		return
	}

	out := ErrorsData{Errors: map[string]string{}, Cleared: []string{}}
	err := h.withForm(ctx, sess, func(form *estimate.Store) error {
		f := estimate.Field(data.Field)
		if form.ValidateField(f) {
			out.Cleared = append(out.Cleared, data.Field)
		} else {
			out.Errors[data.Field] = form.Error(f)
		}
		return nil
	})
	if err != nil {
		h.sendError(ctx, conn, msg.ID, "storage_error", "failed to load form")
		return
	}
	h.send(ctx, conn, ServerMessage{Type: "errors", RequestID: msg.ID, Data: out})
}

// handleLookup resolves a postal code without touching the form.
func (h *Handler) handleLookup(ctx context.Context, conn *websocket.Conn, msg ClientMessage) {
	var data LookupData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid lookup data")
		return
	}
	if data.Side != "from" && data.Side != "to" {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "side must be from or to")
		return
	}
	zip := postal.FormatZipcode(data.Zipcode)
	if !postal.IsValidZipcode(zip) {
		h.sendError(ctx, conn, msg.ID, "invalid_zipcode", "zipcode must be seven digits")
		return
	}
	if h.forms.Postal == nil {
		h.sendError(ctx, conn, msg.ID, "lookup_disabled", "postal lookup is disabled")
		return
	}

	addr, err := h.forms.Postal.Lookup(ctx, zip)
	switch {
	case errors.Is(err, postal.ErrUnavailable):
		h.logger.Warn("postal service unavailable", zap.String("zipcode", zip), zap.Error(err))
		h.sendError(ctx, conn, msg.ID, "lookup_unavailable", "postal lookup is temporarily unavailable")
	case err != nil:
		h.logger.Warn("postal lookup", zap.String("zipcode", zip), zap.Error(err))
		h.sendError(ctx, conn, msg.ID, "lookup_failed", "postal lookup failed")
	case addr == nil:
		h.sendError(ctx, conn, msg.ID, "not_found", "no address for "+zip)
	default:
		h.send(ctx, conn, ServerMessage{Type: "address", RequestID: msg.ID, Data: AddressData{
			Side:    data.Side,
			Zipcode: zip,
			Address: postal.FormatFullAddress(*addr),
		}})
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		h.logger.Debug("write error", zap.Error(err))
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, message string) {
	h.send(ctx, conn, ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data: ErrorData{
			Code:    code,
			Message: message,
		},
	})
}
