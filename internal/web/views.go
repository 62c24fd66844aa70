package web

import (
	"time"

	"github.com/movebid/quoteform/internal/options"
	"github.com/movebid/quoteform/internal/verification"
)

// Input kinds.
const (
	InputText     = "text"
	InputTel      = "tel"
	InputEmail    = "email"
	InputDate     = "date"
	InputSelect   = "select"
	InputRadio    = "radio"
	InputTextarea = "textarea"
)

// Field is one rendered form control.
type Field struct {
	Name        string
	Label       string
	Type        string
	Value       string
	Placeholder string
	Error       string
	Options     []options.Option
	Required    bool
	Disabled    bool
	Hidden      bool
	Autofocus   bool
	// ShowWhen names the controlling field and value, as "field=value".
	ShowWhen string
}

// Section groups fields under a heading.
type Section struct {
	ID     string
	Title  string
	Fields []Field
}

// LuggageItem is one quantity input.
type LuggageItem struct {
	ID       string
	Name     string
	SubLabel string
	Quantity int
}

// LuggageCategory groups luggage inputs.
type LuggageCategory struct {
	Code  string
	Name  string
	Items []LuggageItem
}

// EntryView is the data of the entry page.
type EntryView struct {
	Sections      []Section
	Luggage       []LuggageCategory
	LuggageError  string
	OtherLuggage  Field
	LuggageTotal  int
	RestorePrompt bool
	Sample        bool
	Errors        []string
	Notice        string
}

// Row is one label/value pair on the confirmation page.
type Row struct {
	Label string
	Value string
}

// ReviewSection groups confirmation rows.
type ReviewSection struct {
	Title string
	Rows  []Row
}

// ConfirmationView is the data of the confirmation page.
type ConfirmationView struct {
	Sections     []ReviewSection
	Luggage      []ReviewSection
	OtherLuggage string
	Banner       string
	Details      []string
}

// ThanksView is the data of the thanks page.
type ThanksView struct {
	EstimateID string
	Resend     *verification.ResendResult
}

// VerifyEmailView is the data of the email link landing.
type VerifyEmailView struct {
	Status verification.EmailStatus
	Resend *verification.ResendResult
}

// VerifyCompleteView is the data of the verification complete page and its
// SMS step.
type VerifyCompleteView struct {
	Completion verification.Completion
	SMS        verification.SMSStatus
	Result     *verification.SMSResult
	Resend     *verification.ResendResult
	Code       string
}

// RedirectAfter is the refresh delay after a successful SMS check.
func (v VerifyCompleteView) RedirectAfter() time.Duration {
	if v.Result == nil {
		return 0
	}
	return v.Result.RedirectAfter
}

// PhoneVerified reports whether the SMS step is done.
func (v VerifyCompleteView) PhoneVerified() bool {
	if v.Result != nil && v.Result.State == verification.StateSuccess {
		return true
	}
	return v.SMS.State == verification.StateSuccess
}

// ErrorView is the data of the generic error page.
type ErrorView struct {
	Title   string
	Message string
}
