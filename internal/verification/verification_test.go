package verification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movebid/quoteform/internal/backend"
	"github.com/movebid/quoteform/internal/event"
)

type recorder struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (r *recorder) Publish(_ context.Context, evt event.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// fakeBackend serves canned JSON per path and counts calls.
func fakeBackend(t *testing.T, replies map[string]any) (*backend.Client, map[string]int) {
	t.Helper()
	calls := map[string]int{}
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls[r.URL.Path]++
		mu.Unlock()
		reply, ok := replies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL, 0, nil), calls
}

// downBackend answers every request by closing the connection.
func downBackend(t *testing.T) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return backend.NewClient(srv.URL, 0, nil)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "認証トークンが無効または期限切れです。新しい認証メールをリクエストしてください。",
		ErrorMessage(CodeInvalidToken))
	assert.Equal(t, "見積もり情報が見つかりません。サポートにお問い合わせください。",
		ErrorMessage(CodeEstimateNotFound))
	assert.Equal(t, MsgUnknownError, ErrorMessage("teapot"))
	assert.Equal(t, MsgUnknownError, ErrorMessage(""))
}

func TestValidCode(t *testing.T) {
	for code, want := range map[string]bool{
		"123456":  true,
		"000000":  true,
		"12345":   false,
		"1234567": false,
		"12a456":  false,
		"１２３４５６": false,
		"":        false,
	} {
		assert.Equal(t, want, ValidCode(code), "code %q", code)
	}
}

func TestVerifyEmail_MissingToken(t *testing.T) {
	c, calls := fakeBackend(t, nil)
	st := NewService(c, nil, nil).VerifyEmail(context.Background(), "")
	assert.Equal(t, StateInvalid, st.State)
	assert.Equal(t, MsgNoToken, st.Message)
	assert.Equal(t, "無効なリンクです", st.Title())
	assert.Equal(t, MsgNoToken, st.Description())
	assert.Empty(t, calls)
}

func TestVerifyEmail_Success(t *testing.T) {
	c, _ := fakeBackend(t, map[string]any{
		"/api/verification/verify-email": map[string]any{
			"success": true, "message": "ok", "estimate_id": 42, "already_verified": true,
		},
	})
	rec := &recorder{}
	st := NewService(c, rec, nil).VerifyEmail(context.Background(), "tok")

	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, "42", st.EstimateID)
	assert.True(t, st.AlreadyVerified)
	assert.Equal(t, "メールアドレスは認証済みです", st.Title())
	assert.Equal(t, []string{event.TypeEmailVerified}, rec.types())
}

func TestVerifyEmail_Failure(t *testing.T) {
	c, _ := fakeBackend(t, map[string]any{
		"/api/verification/verify-email": map[string]any{"success": false},
	})
	rec := &recorder{}
	st := NewService(c, rec, nil).VerifyEmail(context.Background(), "tok")
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, MsgEmailFailed, st.Message)
	assert.Equal(t, []string{event.TypeEmailVerifyFailed}, rec.types())
}

func TestVerifyEmail_NetworkError(t *testing.T) {
	st := NewService(downBackend(t), nil, nil).VerifyEmail(context.Background(), "tok")
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, MsgEmailNetwork, st.Message)
}

func TestResendEmail(t *testing.T) {
	c, calls := fakeBackend(t, map[string]any{
		"/api/verification/resend-email": map[string]any{"success": true},
	})
	s := NewService(c, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := s.ResendEmail(ctx, "42")
		assert.True(t, res.OK)
		assert.Equal(t, MsgEmailResent, res.Message)
	}
	assert.Equal(t, 3, calls["/api/verification/resend-email"])

	res := s.ResendEmail(ctx, "")
	assert.False(t, res.OK)
	assert.Equal(t, MsgNoEstimateID, res.Message)
}

func TestSMSStatus(t *testing.T) {
	notice := "090-****-5678 に送信しました"
	c, _ := fakeBackend(t, map[string]any{
		"/api/verification/sms-status": map[string]any{
			"success": true,
			"data":    map[string]any{"phone_verified": false, "sms_sent": true, "sms_message": notice},
		},
	})
	st := NewService(c, nil, nil).SMSStatus(context.Background(), "42")
	assert.Equal(t, StatePending, st.State)
	assert.True(t, st.Sent)
	assert.Equal(t, notice, st.Notice)
}

func TestSMSStatus_AlreadyVerified(t *testing.T) {
	c, _ := fakeBackend(t, map[string]any{
		"/api/verification/sms-status": map[string]any{
			"success": true, "data": map[string]any{"phone_verified": true},
		},
	})
	st := NewService(c, nil, nil).SMSStatus(context.Background(), "42")
	assert.Equal(t, StateSuccess, st.State)
	assert.Equal(t, MsgPhoneVerified, st.Message)
}

func TestSMSStatus_FailuresStayPending(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, StatePending, NewService(downBackend(t), nil, nil).SMSStatus(ctx, "42").State)

	c, calls := fakeBackend(t, map[string]any{
		"/api/verification/sms-status": map[string]any{"success": false, "message": "not found"},
	})
	s := NewService(c, nil, nil)
	assert.Equal(t, StatePending, s.SMSStatus(ctx, "42").State)
	assert.Equal(t, StatePending, s.SMSStatus(ctx, "").State)
	assert.Equal(t, 1, calls["/api/verification/sms-status"])
}

func TestVerifySMS(t *testing.T) {
	c, calls := fakeBackend(t, map[string]any{
		"/api/verification/verify-sms": map[string]any{
			"success": true, "redirect_url": "/complete",
		},
	})
	rec := &recorder{}
	s := NewService(c, rec, nil)
	ctx := context.Background()

	bad := s.VerifySMS(ctx, "42", "12345")
	assert.Equal(t, StateError, bad.State)
	assert.Equal(t, MsgCodeFormat, bad.Message)
	assert.Zero(t, calls["/api/verification/verify-sms"])

	ok := s.VerifySMS(ctx, "42", "123456")
	assert.Equal(t, StateSuccess, ok.State)
	assert.Equal(t, MsgSMSVerified, ok.Message)
	assert.Equal(t, "/complete", ok.RedirectURL)
	assert.Equal(t, RedirectDelay, ok.RedirectAfter)
	assert.Equal(t, []string{event.TypeSMSVerified}, rec.types())
}

func TestVerifySMS_Rejected(t *testing.T) {
	c, _ := fakeBackend(t, map[string]any{
		"/api/verification/verify-sms": map[string]any{"success": false, "message": "コードが違います"},
	})
	res := NewService(c, nil, nil).VerifySMS(context.Background(), "42", "999999")
	assert.Equal(t, StateError, res.State)
	assert.Equal(t, "コードが違います", res.Message)
	assert.Zero(t, res.RedirectAfter)
}

func TestVerifySMS_NetworkError(t *testing.T) {
	res := NewService(downBackend(t), nil, nil).VerifySMS(context.Background(), "42", "123456")
	assert.Equal(t, StateError, res.State)
	assert.Equal(t, MsgSMSNetwork, res.Message)
}

func TestResendSMS(t *testing.T) {
	c, _ := fakeBackend(t, map[string]any{
		"/api/verification/resend-sms": map[string]any{"success": false},
	})
	ctx := context.Background()
	res := NewService(c, nil, nil).ResendSMS(ctx, "42")
	assert.False(t, res.OK)
	assert.Equal(t, MsgSMSResendFailed, res.Message)

	res = NewService(downBackend(t), nil, nil).ResendSMS(ctx, "42")
	assert.Equal(t, MsgSMSResendError, res.Message)
}

type stubBackend struct {
	Backend
	err error
}

func (s stubBackend) ResendSMS(context.Context, string) (backend.ActionResponse, error) {
	return backend.ActionResponse{Success: s.err == nil}, s.err
}

func TestResendSMS_PublishesOnSuccess(t *testing.T) {
	rec := &recorder{}
	res := NewService(stubBackend{}, rec, nil).ResendSMS(context.Background(), "42")
	require.True(t, res.OK)
	assert.Equal(t, MsgSMSResent, res.Message)
	assert.Equal(t, []string{event.TypeVerificationResent}, rec.types())

	res = NewService(stubBackend{err: errors.New("boom")}, rec, nil).ResendSMS(context.Background(), "42")
	assert.False(t, res.OK)
	assert.Len(t, rec.types(), 1)
}

func TestParseCompletion(t *testing.T) {
	c := ParseCompletion(url.Values{
		"status": {"success"}, "estimate_id": {"42"}, "already_verified": {"true"},
	})
	assert.True(t, c.Success)
	assert.False(t, c.Failed())
	assert.True(t, c.AlreadyVerified)
	assert.Equal(t, "42", c.EstimateID)

	c = ParseCompletion(url.Values{"status": {"success"}, "error": {CodeServerError}})
	assert.False(t, c.Success)
	assert.True(t, c.Failed())
	assert.Equal(t, "サーバーエラーが発生しました。しばらく時間をおいて再度お試しください。", c.ErrorMessage())

	c = ParseCompletion(url.Values{})
	assert.False(t, c.Success)
	assert.False(t, c.Failed())
}
