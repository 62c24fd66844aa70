package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/movebid/quoteform/internal/catalog"
	"github.com/movebid/quoteform/internal/estimate"
	"github.com/movebid/quoteform/internal/options"
	"github.com/movebid/quoteform/internal/web"
)

type fieldSpec struct {
	field       estimate.Field
	label       string
	input       string
	group       string // option group
	placeholder string
	showWhen    string
}

var customerFields = []fieldSpec{
	{field: estimate.FieldName, label: "お名前", input: web.InputText, placeholder: "山田 太郎"},
	{field: estimate.FieldNameFurigana, label: "フリガナ", input: web.InputText, placeholder: "ヤマダ タロウ"},
	{field: estimate.FieldPhone, label: "電話番号", input: web.InputTel, placeholder: "090-1234-5678"},
	{field: estimate.FieldEmail, label: "メールアドレス", input: web.InputEmail, placeholder: "example@example.com"},
}

func addressFields(side string) []fieldSpec {
	f := func(name string) estimate.Field { return estimate.Field(side + name) }
	return []fieldSpec{
		{field: f("Zipcode"), label: "郵便番号", input: web.InputText, placeholder: "123-4567"},
		{field: f("Prefecture"), label: "都道府県・市区町村", input: web.InputText},
		{field: f("StreetAddress"), label: "番地", input: web.InputText, placeholder: "1-2-3"},
		{field: f("BuildingDetails"), label: "建物名・部屋番号", input: web.InputText},
		{field: f("BuildingType"), label: "建物の種類", input: web.InputSelect, group: options.BuildingType},
		{field: f("RoomLayout"), label: "間取り", input: web.InputSelect, group: options.RoomLayout},
		{field: f("Floor"), label: "階数", input: web.InputSelect, group: options.Floor},
		{field: f("Elevator"), label: "エレベーター", input: web.InputRadio, group: options.Elevator},
	}
}

var scheduleFields = []fieldSpec{
	{field: estimate.FieldPeopleCount, label: "引越し人数", input: web.InputSelect, group: options.PeopleCount},
	{field: estimate.FieldMovingDateType, label: "引越し日", input: web.InputRadio, group: options.MovingDateType},
	{field: estimate.FieldMovingYearMonth, label: "引越し年月", input: web.InputSelect, group: options.MovingYearMonth,
		showWhen: "movingDateType=" + estimate.MoveModeUndecided},
	{field: estimate.FieldMovingPeriod, label: "時期", input: web.InputRadio, group: options.MovingPeriod,
		showWhen: "movingDateType=" + estimate.MoveModeUndecided},
	{field: estimate.FieldMovingSpecificDate, label: "引越し希望日", input: web.InputDate,
		showWhen: "movingDateType=" + estimate.MoveModeDecided},
	{field: estimate.FieldWorkStartTimeType, label: "作業開始時間", input: web.InputRadio, group: options.WorkStartTimeType},
	{field: estimate.FieldWorkStartTime, label: "希望時間帯", input: web.InputSelect, group: options.WorkStartTime,
		showWhen: "workStartTimeType=" + estimate.WorkModeSpecific},
}

// presenter turns form state into page views.
type presenter struct {
	options *options.Registry
	catalog Catalog
	now     func() time.Time
}

func (p presenter) optionsFor(group string) []options.Option {
	if group == "" {
		return nil
	}
	if group == options.MovingYearMonth {
		return options.YearMonthOptions(p.now())
	}
	if p.options == nil {
		return nil
	}
	return p.options.Options(group)
}

func (p presenter) label(group, value string) string {
	if value == "" {
		return ""
	}
	if group == options.MovingYearMonth {
		for _, o := range options.YearMonthOptions(p.now()) {
			if o.Value == value {
				return o.Label
			}
		}
		if t, err := time.Parse("2006-01", value); err == nil {
			return fmt.Sprintf("%d年%d月", t.Year(), int(t.Month()))
		}
		return value
	}
	if p.options == nil {
		return value
	}
	return p.options.Label(group, value)
}

func (p presenter) fields(form *estimate.Store, specs []fieldSpec, first estimate.Field) []web.Field {
	rec := form.Record()
	out := make([]web.Field, 0, len(specs))
	for _, s := range specs {
		v, _ := rec.Get(s.field)
		wf := web.Field{
			Name:        string(s.field),
			Label:       s.label,
			Type:        s.input,
			Value:       v,
			Placeholder: s.placeholder,
			Error:       form.Error(s.field),
			Options:     p.optionsFor(s.group),
			Required:    form.Validator().HasRule(s.field) || strings.HasSuffix(string(s.field), "StreetAddress"),
			Autofocus:   s.field == first,
			ShowWhen:    s.showWhen,
		}
		if s.showWhen != "" {
			ctl, want, _ := strings.Cut(s.showWhen, "=")
			cur, _ := rec.Get(estimate.Field(ctl))
			wf.Hidden = cur != want
		}
		if s.group == options.Floor {
			side := strings.TrimSuffix(string(s.field), "Floor")
			if side == "from" {
				wf.Disabled = rec.From.Building.FloorLocked()
			} else {
				wf.Disabled = rec.To.Building.FloorLocked()
			}
		}
		out = append(out, wf)
	}
	return out
}

// entry builds the entry page. first is the field to focus after a failed
// confirmation.
func (p presenter) entry(ctx context.Context, form *estimate.Store, first estimate.Field) (web.EntryView, error) {
	v := web.EntryView{
		Sections: []web.Section{
			{ID: "customer", Title: "お客様情報", Fields: p.fields(form, customerFields, first)},
			{ID: "from", Title: "引越し元", Fields: p.fields(form, addressFields("from"), first)},
			{ID: "to", Title: "引越し先", Fields: p.fields(form, addressFields("to"), first)},
			{ID: "schedule", Title: "引越し日程", Fields: p.fields(form, scheduleFields, first)},
		},
		OtherLuggage: web.Field{
			Name:        string(estimate.FieldOtherLuggage),
			Label:       "その他の荷物",
			Type:        web.InputTextarea,
			Placeholder: "ピアノ、金庫など",
			Value:       form.Record().OtherLuggage,
		},
		LuggageTotal:  form.LuggageTotal(),
		RestorePrompt: form.RestorePending(),
	}
	if errs := form.Errors(); len(errs) > 0 {
		v.Errors = estimate.Report{Errors: errs}.Messages(form.Validator().Order())
	}

	cats, err := p.catalog.Categories(ctx)
	if err != nil {
		v.LuggageError = "荷物リストの読み込みに失敗しました"
		return v, err
	}
	rec := form.Record()
	for _, c := range cats {
		lc := web.LuggageCategory{Code: c.Code, Name: c.Name}
		for _, it := range c.Items {
			lc.Items = append(lc.Items, web.LuggageItem{
				ID: it.ID, Name: it.Name, SubLabel: it.SubLabel, Quantity: rec.Quantity(it.ID),
			})
		}
		v.Luggage = append(v.Luggage, lc)
	}
	return v, nil
}

func addressLine(a estimate.Address) string {
	parts := make([]string, 0, 4)
	if a.Zipcode != "" {
		parts = append(parts, "〒"+a.Zipcode)
	}
	for _, s := range []string{a.Prefecture + a.StreetAddress, a.BuildingDetails} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func (p presenter) buildingRows(b estimate.Building) []web.Row {
	return []web.Row{
		{Label: "建物の種類", Value: p.label(options.BuildingType, b.Type)},
		{Label: "間取り", Value: p.label(options.RoomLayout, b.RoomLayout)},
		{Label: "階数", Value: p.label(options.Floor, b.Floor)},
		{Label: "エレベーター", Value: p.label(options.Elevator, b.Elevator)},
	}
}

func (p presenter) moveDate(d estimate.MoveDate) string {
	switch d := d.(type) {
	case estimate.MoveDateDecided:
		if t, err := time.Parse("2006-01-02", d.Date); err == nil {
			return fmt.Sprintf("%d年%d月%d日", t.Year(), int(t.Month()), t.Day())
		}
		return d.Date
	case estimate.MoveDateUndecided:
		return strings.TrimSpace(p.label(options.MovingYearMonth, d.YearMonth) + " " + p.label(options.MovingPeriod, d.Period))
	}
	return ""
}

func (p presenter) workStart(w estimate.WorkStart) string {
	switch w := w.(type) {
	case estimate.WorkStartAnytime:
		return p.label(options.WorkStartTimeType, estimate.WorkModeAnytime)
	case estimate.WorkStartSpecific:
		return p.label(options.WorkStartTime, w.Slot)
	}
	return ""
}

// confirmation builds the read-only review of rec.
func (p presenter) confirmation(ctx context.Context, rec *estimate.Record) web.ConfirmationView {
	from := append([]web.Row{{Label: "住所", Value: addressLine(rec.From)}}, p.buildingRows(rec.From.Building)...)
	to := append([]web.Row{{Label: "住所", Value: addressLine(rec.To)}}, p.buildingRows(rec.To.Building)...)
	v := web.ConfirmationView{
		Sections: []web.ReviewSection{
			{Title: "お客様情報", Rows: []web.Row{
				{Label: "お名前", Value: rec.Name},
				{Label: "フリガナ", Value: rec.NameFurigana},
				{Label: "電話番号", Value: rec.Phone},
				{Label: "メールアドレス", Value: rec.Email},
			}},
			{Title: "引越し元", Rows: from},
			{Title: "引越し先", Rows: to},
			{Title: "引越し日程", Rows: []web.Row{
				{Label: "引越し人数", Value: p.label(options.PeopleCount, rec.PeopleCount)},
				{Label: "引越し日", Value: p.moveDate(rec.MoveDate)},
				{Label: "作業開始時間", Value: p.workStart(rec.WorkStart)},
			}},
		},
		OtherLuggage: strings.TrimSpace(rec.OtherLuggage),
	}
	v.Luggage = p.luggageGroups(ctx, rec.Luggage)
	return v
}

// luggageGroups groups selected lines by category in catalog order. Lines
// whose category the catalog does not know go last under その他.
func (p presenter) luggageGroups(ctx context.Context, lines []estimate.LuggageLine) []web.ReviewSection {
	var cats []catalog.Category
	if p.catalog != nil {
		cats, _ = p.catalog.Categories(ctx)
	}
	byCode := map[string][]web.Row{}
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		name := l.Name
		if l.SubLabel != "" {
			name += "（" + l.SubLabel + "）"
		}
		byCode[l.Category] = append(byCode[l.Category], web.Row{Label: name, Value: fmt.Sprint(l.Quantity)})
	}

	var out []web.ReviewSection
	for _, c := range cats {
		if rows, ok := byCode[c.Code]; ok {
			out = append(out, web.ReviewSection{Title: c.Name, Rows: rows})
			delete(byCode, c.Code)
		}
	}
	var rest []web.Row
	for _, l := range lines {
		if rows, ok := byCode[l.Category]; ok {
			rest = append(rest, rows...)
			delete(byCode, l.Category)
		}
	}
	if len(rest) > 0 {
		out = append(out, web.ReviewSection{Title: "その他", Rows: rest})
	}
	return out
}
