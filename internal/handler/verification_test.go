package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movebid/quoteform/internal/backend"
	"github.com/movebid/quoteform/internal/verification"
	"github.com/movebid/quoteform/internal/web"
)

type stubBackend struct {
	verifyEmail backend.VerifyEmailResponse
	resend      backend.ActionResponse
	status      backend.SMSStatusResponse
	verifySMS   backend.VerifySMSResponse
	err         error
	codes       []string
}

func (b *stubBackend) VerifyEmail(context.Context, string) (backend.VerifyEmailResponse, error) {
	return b.verifyEmail, b.err
}

func (b *stubBackend) ResendEmail(context.Context, string) (backend.ActionResponse, error) {
	return b.resend, b.err
}

func (b *stubBackend) SMSStatus(context.Context, string) (backend.SMSStatusResponse, error) {
	return b.status, b.err
}

func (b *stubBackend) VerifySMS(_ context.Context, code string) (backend.VerifySMSResponse, error) {
	b.codes = append(b.codes, code)
	return b.verifySMS, b.err
}

func (b *stubBackend) ResendSMS(context.Context, string) (backend.ActionResponse, error) {
	return b.resend, b.err
}

func newVerificationServer(t *testing.T, b *stubBackend) *httptest.Server {
	t.Helper()
	render, err := web.NewRenderer(nil)
	require.NoError(t, err)
	h := NewVerificationHandler(verification.NewService(b, nil, nil), render, nil)

	r := chi.NewRouter()
	r.Get("/verify-email", h.HandleVerifyEmail)
	r.Post("/verify-email/resend", h.HandleResendEmail)
	r.Get("/verify-email-complete", h.HandleVerifyComplete)
	r.Post("/verify-sms", h.HandleVerifySMS)
	r.Post("/verify-sms/resend", h.HandleResendSMS)
	r.Get("/complete", h.HandleComplete)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func fetch(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var b bytes.Buffer
	_, err = b.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, b.String()
}

func getPage(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	return fetch(t, req)
}

func postPage(t *testing.T, srv *httptest.Server, path string, v url.Values) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(v.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return fetch(t, req)
}

func TestVerifyEmail_Success(t *testing.T) {
	b := &stubBackend{}
	b.verifyEmail.Success = true
	b.verifyEmail.EstimateID = "77"
	srv := newVerificationServer(t, b)

	resp, body := getPage(t, srv, "/verify-email?token=abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "メールアドレスの認証が完了しました")
	assert.Contains(t, body, "77")
}

func TestVerifyEmail_MissingToken(t *testing.T) {
	srv := newVerificationServer(t, &stubBackend{})
	resp, body := getPage(t, srv, "/verify-email")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "無効なリンクです")
	assert.Contains(t, body, verification.MsgNoToken)
}

func TestVerifyEmail_JSON(t *testing.T) {
	b := &stubBackend{err: errors.New("dial tcp: refused")}
	srv := newVerificationServer(t, b)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/verify-email?token=abc", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, body := fetch(t, req)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, `"state":"error"`)
	assert.Contains(t, body, verification.MsgEmailNetwork)
}

func TestResendEmail(t *testing.T) {
	b := &stubBackend{}
	b.resend.Success = true
	srv := newVerificationServer(t, b)

	resp, body := postPage(t, srv, "/verify-email/resend", url.Values{"estimate_id": {"77"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, verification.MsgEmailResent)

	resp, body = postPage(t, srv, "/verify-email/resend", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, verification.MsgNoEstimateID)
}

func TestVerifyComplete(t *testing.T) {
	notice := "SMSを送信しました"
	b := &stubBackend{}
	b.status.Success = true
	b.status.Data.SMSSent = true
	b.status.Data.SMSMessage = &notice
	srv := newVerificationServer(t, b)

	tests := []struct {
		name  string
		query string
		code  int
		want  []string
	}{
		{"success shows sms form", "?status=success&estimate_id=77", http.StatusOK,
			[]string{"メールアドレスの認証が完了しました", notice, `action="/verify-sms"`}},
		{"already verified", "?status=success&already_verified=true&estimate_id=77", http.StatusOK,
			[]string{"メールアドレスは認証済みです"}},
		{"known error", "?error=invalid_token", http.StatusUnprocessableEntity,
			[]string{"認証トークンが無効または期限切れです。"}},
		{"unknown error", "?error=boom", http.StatusUnprocessableEntity,
			[]string{verification.MsgUnknownError}},
		{"no outcome", "", http.StatusUnprocessableEntity,
			[]string{"認証エラー", verification.MsgUnknownError}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := getPage(t, srv, "/verify-email-complete"+tt.query)
			assert.Equal(t, tt.code, resp.StatusCode)
			for _, w := range tt.want {
				assert.Contains(t, body, w)
			}
		})
	}
}

func TestVerifySMS(t *testing.T) {
	b := &stubBackend{}
	b.verifySMS.Success = true
	b.verifySMS.RedirectURL = "/complete"
	srv := newVerificationServer(t, b)

	resp, body := postPage(t, srv, "/verify-sms", url.Values{"estimate_id": {"77"}, "code": {"12345"}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, verification.MsgCodeFormat)
	assert.Empty(t, b.codes, "malformed code never sent")

	resp, body = postPage(t, srv, "/verify-sms", url.Values{"estimate_id": {"77"}, "code": {"123456"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "認証完了")
	assert.Contains(t, body, `content="2;url=/complete"`)
	assert.Equal(t, []string{"123456"}, b.codes)
}

func TestVerifySMS_JSONRejected(t *testing.T) {
	b := &stubBackend{}
	b.verifySMS.Message = "認証コードが違います"
	srv := newVerificationServer(t, b)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/verify-sms",
		strings.NewReader(`{"estimate_id":"77","code":"654321"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, body := fetch(t, req)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "認証コードが違います")
}

func TestResendSMS(t *testing.T) {
	b := &stubBackend{}
	b.resend.Success = true
	srv := newVerificationServer(t, b)

	resp, body := postPage(t, srv, "/verify-sms/resend", url.Values{"estimate_id": {"77"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, verification.MsgSMSResent)

	b.resend = backend.ActionResponse{Message: "送信上限に達しました"}
	resp, body = postPage(t, srv, "/verify-sms/resend", url.Values{"estimate_id": {"77"}})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, "送信上限に達しました")
}

func TestComplete(t *testing.T) {
	srv := newVerificationServer(t, &stubBackend{})
	resp, body := getPage(t, srv, "/complete")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "見積もり依頼が完了しました")
}
