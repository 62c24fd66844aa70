// Package verification drives the post-submission identity checks: the email
// link landing, the SMS code step and the resend actions. Every backend
// failure is folded into a displayable state; nothing here returns an error.
package verification

import (
	"context"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/movebid/quoteform/internal/backend"
	"github.com/movebid/quoteform/internal/event"
)

// State is the display state of a verification screen.
type State string

const (
	StateLoading State = "loading"
	StatePending State = "pending"
	StateSuccess State = "success"
	StateError   State = "error"
	StateInvalid State = "invalid"
)

// RedirectDelay is how long the SMS success message stays up before the
// browser follows the backend's redirect.
const RedirectDelay = 2 * time.Second

// Messages shown on the verification screens.
const (
	MsgNoToken           = "認証トークンが見つかりません"
	MsgEmailFailed       = "認証に失敗しました"
	MsgEmailNetwork      = "認証中にエラーが発生しました。しばらく時間をおいて再度お試しください。"
	MsgEmailResent       = "認証メールを再送しました。"
	MsgEmailResendFailed = "メール再送に失敗しました"
	MsgEmailResendError  = "メール再送中にエラーが発生しました。しばらく時間をおいて再度お試しください。"

	MsgPhoneVerified   = "電話番号の認証が完了しています"
	MsgCodeFormat      = "6桁の認証コードを入力してください"
	MsgSMSVerified     = "SMS認証が完了しました"
	MsgSMSFailed       = "SMS認証に失敗しました"
	MsgSMSNetwork      = "SMS認証中にエラーが発生しました。しばらく時間をおいて再度お試しください。"
	MsgSMSResent       = "SMS認証コードを再送しました。"
	MsgSMSResendFailed = "SMS再送に失敗しました"
	MsgSMSResendError  = "SMS再送中にエラーが発生しました。しばらく時間をおいて再度お試しください。"
	MsgNoEstimateID    = "見積もりIDが見つかりません"
)

// Error codes the backend puts on the verify-email-complete redirect.
const (
	CodeNoToken            = "no_token"
	CodeInvalidToken       = "invalid_token"
	CodeEstimateNotFound   = "estimate_not_found"
	CodeVerificationFailed = "verification_failed"
	CodeServerError        = "server_error"
)

var errorMessages = map[string]string{
	CodeNoToken:            "認証トークンが見つかりません。メール内のリンクを正しくクリックしてください。",
	CodeInvalidToken:       "認証トークンが無効または期限切れです。新しい認証メールをリクエストしてください。",
	CodeEstimateNotFound:   "見積もり情報が見つかりません。サポートにお問い合わせください。",
	CodeVerificationFailed: "メール認証に失敗しました。しばらく時間をおいて再度お試しください。",
	CodeServerError:        "サーバーエラーが発生しました。しばらく時間をおいて再度お試しください。",
}

// MsgUnknownError is shown for error codes outside the known set.
const MsgUnknownError = "認証中にエラーが発生しました。"

// ErrorMessage maps a backend error code to its message.
func ErrorMessage(code string) string {
	if m, ok := errorMessages[code]; ok {
		return m
	}
	return MsgUnknownError
}

var smsCodePattern = regexp.MustCompile(`^\d{6}$`)

// ValidCode reports whether code is exactly six ASCII digits.
func ValidCode(code string) bool { return smsCodePattern.MatchString(code) }

// Backend is the subset of the estimate service used here.
type Backend interface {
	VerifyEmail(ctx context.Context, token string) (backend.VerifyEmailResponse, error)
	ResendEmail(ctx context.Context, estimateID string) (backend.ActionResponse, error)
	SMSStatus(ctx context.Context, estimateID string) (backend.SMSStatusResponse, error)
	VerifySMS(ctx context.Context, code string) (backend.VerifySMSResponse, error)
	ResendSMS(ctx context.Context, estimateID string) (backend.ActionResponse, error)
}

// Publisher receives verification events.
type Publisher interface {
	Publish(ctx context.Context, evt event.DomainEvent)
}

// EmailStatus is the outcome of an email link.
type EmailStatus struct {
	State           State
	Message         string
	EstimateID      string
	AlreadyVerified bool
}

// Title is the heading for the email landing page.
func (s EmailStatus) Title() string {
	switch s.State {
	case StateLoading:
		return "メールアドレスを認証中..."
	case StateSuccess:
		if s.AlreadyVerified {
			return "メールアドレスは認証済みです"
		}
		return "メールアドレスの認証が完了しました"
	case StateError:
		return "認証に失敗しました"
	case StateInvalid:
		return "無効なリンクです"
	}
	return "認証処理中"
}

// Description is the text under the heading.
func (s EmailStatus) Description() string {
	switch s.State {
	case StateLoading:
		return "しばらくお待ちください..."
	case StateSuccess:
		if s.AlreadyVerified {
			return "このメールアドレスは既に認証されています。引き続きサービスをご利用いただけます。"
		}
		return "ありがとうございます！メールアドレスの認証が正常に完了しました。これで複数の業者から見積もりを受け取ることができます。"
	case StateError, StateInvalid:
		return s.Message
	}
	return ""
}

// SMSStatus is the phone verification state shown on the SMS step.
type SMSStatus struct {
	State   State
	Message string
	// Sent and Notice mirror the backend's delivery report.
	Sent      bool
	Notice    string
	ExpiresAt string
}

// SMSResult is the outcome of submitting a code.
type SMSResult struct {
	State       State
	Message     string
	RedirectURL string
	// RedirectAfter is zero when there is nowhere to go.
	RedirectAfter time.Duration
}

// ResendResult is the outcome of a resend action.
type ResendResult struct {
	OK      bool
	Message string
}

// Service runs verification actions against the backend.
type Service struct {
	backend Backend
	events  Publisher
	logger  *zap.Logger
}

// NewService creates a Service. events and logger may be nil.
func NewService(b Backend, events Publisher, logger *zap.Logger) *Service {
	if events == nil {
		events = event.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: b, events: events, logger: logger}
}

// VerifyEmail exchanges an email link token once.
func (s *Service) VerifyEmail(ctx context.Context, token string) EmailStatus {
	if token == "" {
		return EmailStatus{State: StateInvalid, Message: MsgNoToken}
	}

	resp, err := s.backend.VerifyEmail(ctx, token)
	if err != nil {
		s.logger.Warn("email verification error", zap.Error(err))
		s.events.Publish(ctx, event.NewEmailVerifyFailed(event.VerificationPayload{Reason: err.Error()}))
		return EmailStatus{State: StateError, Message: MsgEmailNetwork}
	}
	if !resp.Success {
		msg := orDefault(resp.Message, MsgEmailFailed)
		s.events.Publish(ctx, event.NewEmailVerifyFailed(event.VerificationPayload{
			EstimateID: string(resp.EstimateID),
			Reason:     msg,
		}))
		return EmailStatus{State: StateError, Message: msg}
	}

	s.events.Publish(ctx, event.NewEmailVerified(event.VerificationPayload{
		EstimateID:      string(resp.EstimateID),
		AlreadyVerified: resp.AlreadyVerified,
	}))
	return EmailStatus{
		State:           StateSuccess,
		Message:         resp.Message,
		EstimateID:      string(resp.EstimateID),
		AlreadyVerified: resp.AlreadyVerified,
	}
}

// ResendEmail asks for a new verification mail. It may be called any number
// of times.
func (s *Service) ResendEmail(ctx context.Context, estimateID string) ResendResult {
	if estimateID == "" {
		return ResendResult{Message: MsgNoEstimateID}
	}
	resp, err := s.backend.ResendEmail(ctx, estimateID)
	if err != nil {
		s.logger.Warn("email resend error", zap.String("estimate_id", estimateID), zap.Error(err))
		return ResendResult{Message: MsgEmailResendError}
	}
	if !resp.Success {
		return ResendResult{Message: orDefault(resp.Message, MsgEmailResendFailed)}
	}
	s.events.Publish(ctx, event.NewVerificationResent(event.VerificationPayload{
		EstimateID: estimateID,
		Channel:    "email",
	}))
	return ResendResult{OK: true, Message: MsgEmailResent}
}

// SMSStatus loads the phone verification state. A lookup failure leaves the
// form pending so the customer can still enter a code.
func (s *Service) SMSStatus(ctx context.Context, estimateID string) SMSStatus {
	st := SMSStatus{State: StatePending}
	if estimateID == "" {
		return st
	}

	resp, err := s.backend.SMSStatus(ctx, estimateID)
	if err != nil {
		s.logger.Warn("sms status fetch error", zap.String("estimate_id", estimateID), zap.Error(err))
		return st
	}
	if !resp.Success {
		s.logger.Info("sms status fetch failed",
			zap.String("estimate_id", estimateID),
			zap.String("message", resp.Message))
		return st
	}

	st.Sent = resp.Data.SMSSent
	if resp.Data.SMSMessage != nil {
		st.Notice = *resp.Data.SMSMessage
	}
	if resp.Data.SMSExpiresAt != nil {
		st.ExpiresAt = *resp.Data.SMSExpiresAt
	}
	if resp.Data.PhoneVerified {
		st.State = StateSuccess
		st.Message = MsgPhoneVerified
	}
	return st
}

// VerifySMS submits a code. Malformed codes never reach the backend.
func (s *Service) VerifySMS(ctx context.Context, estimateID, code string) SMSResult {
	if !ValidCode(code) {
		return SMSResult{State: StateError, Message: MsgCodeFormat}
	}

	resp, err := s.backend.VerifySMS(ctx, code)
	if err != nil {
		s.logger.Warn("sms verification error", zap.String("estimate_id", estimateID), zap.Error(err))
		s.events.Publish(ctx, event.NewSMSVerifyFailed(event.VerificationPayload{
			EstimateID: estimateID,
			Reason:     err.Error(),
		}))
		return SMSResult{State: StateError, Message: MsgSMSNetwork}
	}
	if !resp.Success {
		msg := orDefault(resp.Message, MsgSMSFailed)
		s.events.Publish(ctx, event.NewSMSVerifyFailed(event.VerificationPayload{
			EstimateID: estimateID,
			Reason:     msg,
		}))
		return SMSResult{State: StateError, Message: msg}
	}

	s.events.Publish(ctx, event.NewSMSVerified(event.VerificationPayload{EstimateID: estimateID}))
	res := SMSResult{State: StateSuccess, Message: orDefault(resp.Message, MsgSMSVerified)}
	if resp.RedirectURL != "" {
		res.RedirectURL = resp.RedirectURL
		res.RedirectAfter = RedirectDelay
	}
	return res
}

// ResendSMS asks for a new code.
func (s *Service) ResendSMS(ctx context.Context, estimateID string) ResendResult {
	if estimateID == "" {
		return ResendResult{Message: MsgNoEstimateID}
	}
	resp, err := s.backend.ResendSMS(ctx, estimateID)
	if err != nil {
		s.logger.Warn("sms resend error", zap.String("estimate_id", estimateID), zap.Error(err))
		return ResendResult{Message: MsgSMSResendError}
	}
	if !resp.Success {
		return ResendResult{Message: orDefault(resp.Message, MsgSMSResendFailed)}
	}
	s.events.Publish(ctx, event.NewVerificationResent(event.VerificationPayload{
		EstimateID: estimateID,
		Channel:    "sms",
	}))
	return ResendResult{OK: true, Message: MsgSMSResent}
}

// Completion is the state carried on the verify-email-complete redirect.
type Completion struct {
	ErrorCode       string
	EstimateID      string
	AlreadyVerified bool
	Success         bool
}

// ParseCompletion reads the status, error, already_verified and estimate_id
// query parameters.
func ParseCompletion(q url.Values) Completion {
	c := Completion{
		ErrorCode:       q.Get("error"),
		EstimateID:      q.Get("estimate_id"),
		AlreadyVerified: q.Get("already_verified") == "true",
	}
	c.Success = q.Get("status") == "success" && c.ErrorCode == ""
	return c
}

// Failed reports whether the redirect carried an error code.
func (c Completion) Failed() bool { return c.ErrorCode != "" }

// ErrorMessage is the message for the carried error code.
func (c Completion) ErrorMessage() string { return ErrorMessage(c.ErrorCode) }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
