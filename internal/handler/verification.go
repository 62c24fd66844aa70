package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/verification"
	"github.com/movebid/quoteform/internal/web"
)

// VerificationHandler serves the email and SMS verification pages.
type VerificationHandler struct {
	svc    *verification.Service
	render *web.Renderer
	logger *zap.Logger
}

// NewVerificationHandler creates a VerificationHandler.
func NewVerificationHandler(svc *verification.Service, render *web.Renderer, logger *zap.Logger) *VerificationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationHandler{svc: svc, render: render, logger: logger}
}

type verifyRequest struct {
	EstimateID string `json:"estimate_id"`
	Code       string `json:"code"`
}

// readVerify reads estimate_id and code from a JSON or form body.
func readVerify(w http.ResponseWriter, r *http.Request) (verifyRequest, bool) {
	var req verifyRequest
	if isJSON(r) {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
			return req, false
		}
		return req, true
	}
	if !parseForm(w, r) {
		return req, false
	}
	req.EstimateID = r.PostForm.Get("estimate_id")
	req.Code = r.PostForm.Get("code")
	return req, true
}

type emailStatusResponse struct {
	State           verification.State `json:"state"`
	Title           string             `json:"title"`
	Message         string             `json:"message,omitempty"`
	EstimateID      string             `json:"estimate_id,omitempty"`
	AlreadyVerified bool               `json:"already_verified"`
}

// HandleVerifyEmail exchanges the token of an email link.
// GET /verify-email?token=
func (h *VerificationHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	st := h.svc.VerifyEmail(r.Context(), r.URL.Query().Get("token"))

	status := http.StatusOK
	switch st.State {
	case verification.StateInvalid:
		status = http.StatusBadRequest
	case verification.StateError:
		status = http.StatusUnprocessableEntity
	}
	if wantsJSON(r) {
		writeJSON(w, status, emailStatusResponse{
			State:           st.State,
			Title:           st.Title(),
			Message:         st.Description(),
			EstimateID:      st.EstimateID,
			AlreadyVerified: st.AlreadyVerified,
		})
		return
	}
	h.render.Render(w, status, web.PageVerifyEmail, web.VerifyEmailView{Status: st})
}

func resendStatus(res verification.ResendResult) int {
	if res.OK {
		return http.StatusOK
	}
	return http.StatusBadGateway
}

type resendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleResendEmail requests a new verification mail and shows the thanks
// page again with the outcome.
// POST /verify-email/resend
func (h *VerificationHandler) HandleResendEmail(w http.ResponseWriter, r *http.Request) {
	req, ok := readVerify(w, r)
	if !ok {
		return
	}
	res := h.svc.ResendEmail(r.Context(), req.EstimateID)
	status := resendStatus(res)
	if req.EstimateID == "" {
		status = http.StatusBadRequest
	}
	if wantsJSON(r) {
		writeJSON(w, status, resendResponse{Success: res.OK, Message: res.Message})
		return
	}
	h.render.Render(w, status, web.PageThanks, web.ThanksView{EstimateID: req.EstimateID, Resend: &res})
}

// completeView loads the SMS state for a successful email verification.
func (h *VerificationHandler) completeView(r *http.Request, c verification.Completion) web.VerifyCompleteView {
	v := web.VerifyCompleteView{Completion: c}
	if c.Success {
		v.SMS = h.svc.SMSStatus(r.Context(), c.EstimateID)
	}
	return v
}

// HandleVerifyComplete shows where the backend's email redirect landed and,
// on success, the SMS code form.
// GET /verify-email-complete
func (h *VerificationHandler) HandleVerifyComplete(w http.ResponseWriter, r *http.Request) {
	c := verification.ParseCompletion(r.URL.Query())
	status := http.StatusOK
	if !c.Success && !c.Failed() {
		// Neither outcome on the redirect: treat it as an unknown error.
		c.ErrorCode = "unknown"
	}
	if c.Failed() {
		status = http.StatusUnprocessableEntity
	}
	h.render.Render(w, status, web.PageVerifyComplete, h.completeView(r, c))
}

type smsResponse struct {
	State       verification.State `json:"state"`
	Message     string             `json:"message"`
	RedirectURL string             `json:"redirect_url,omitempty"`
}

// HandleVerifySMS checks the six digit code.
// POST /verify-sms
func (h *VerificationHandler) HandleVerifySMS(w http.ResponseWriter, r *http.Request) {
	req, ok := readVerify(w, r)
	if !ok {
		return
	}
	res := h.svc.VerifySMS(r.Context(), req.EstimateID, req.Code)

	status := http.StatusOK
	if res.State != verification.StateSuccess {
		status = http.StatusUnprocessableEntity
	}
	if wantsJSON(r) {
		writeJSON(w, status, smsResponse{State: res.State, Message: res.Message, RedirectURL: res.RedirectURL})
		return
	}

	v := h.completeView(r, verification.Completion{Success: true, EstimateID: req.EstimateID})
	v.Result = &res
	if res.State != verification.StateSuccess {
		v.Code = req.Code
	}
	h.render.Render(w, status, web.PageVerifyComplete, v)
}

// HandleResendSMS requests a new SMS code.
// POST /verify-sms/resend
func (h *VerificationHandler) HandleResendSMS(w http.ResponseWriter, r *http.Request) {
	req, ok := readVerify(w, r)
	if !ok {
		return
	}
	res := h.svc.ResendSMS(r.Context(), req.EstimateID)
	status := resendStatus(res)
	if req.EstimateID == "" {
		status = http.StatusBadRequest
	}
	if wantsJSON(r) {
		writeJSON(w, status, resendResponse{Success: res.OK, Message: res.Message})
		return
	}
	v := h.completeView(r, verification.Completion{Success: true, EstimateID: req.EstimateID})
	v.Resend = &res
	h.render.Render(w, status, web.PageVerifyComplete, v)
}

// HandleComplete shows the final page after both verifications.
// GET /complete
func (h *VerificationHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, http.StatusOK, web.PageComplete, nil)
}
