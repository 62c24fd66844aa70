package estimate

import (
	"regexp"
	"strings"
	"time"
)

// Errors maps a field to its current validation message. A missing key means
// the field is valid or has not been validated yet.
type Errors map[Field]string

var (
	katakanaPattern = regexp.MustCompile(`^[ァ-ヶー\s\x{3000}]+$`)
	phonePattern    = regexp.MustCompile(`^[\d\-+()]+$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

const dateLayout = "2006-01-02"

// Check is one predicate of a rule. Checks run in order and the first
// failing one supplies the message.
type Check struct {
	Pass    func(value string, today time.Time) bool
	Message string
}

// Rule validates a single field. When Applies is set and returns false the
// field is skipped and counts as valid.
type Rule struct {
	Field   Field
	Applies func(r *Record) bool
	Checks  []Check
}

// PairRule requires every listed field to be non-blank. Its message is
// reported under Key and replaces any message Key already had.
type PairRule struct {
	Key     Field
	Fields  []Field
	Message string
}

func required(msg string) Check {
	return Check{
		Pass:    func(v string, _ time.Time) bool { return strings.TrimSpace(v) != "" },
		Message: msg,
	}
}

func matches(re *regexp.Regexp, msg string) Check {
	return Check{
		Pass:    func(v string, _ time.Time) bool { return re.MatchString(v) },
		Message: msg,
	}
}

func isMode(f func(r *Record) string, mode string) func(r *Record) bool {
	return func(r *Record) bool { return f(r) == mode }
}

func moveMode(r *Record) string { return r.MoveDate.Mode() }
func workMode(r *Record) string { return r.WorkStart.Mode() }

// DefaultRules returns the field rules in the order errors are reported.
func DefaultRules() []Rule {
	rules := []Rule{
		{Field: FieldName, Checks: []Check{required("お名前を入力してください")}},
		{Field: FieldNameFurigana, Checks: []Check{
			required("フリガナを入力してください"),
			matches(katakanaPattern, "フリガナはカタカナで入力してください"),
		}},
		{Field: FieldPhone, Checks: []Check{
			required("電話番号を入力してください"),
			matches(phonePattern, "正しい電話番号を入力してください"),
		}},
		{Field: FieldEmail, Checks: []Check{
			required("メールアドレスを入力してください"),
			matches(emailPattern, "正しいメールアドレスを入力してください"),
		}},
	}
	rules = append(rules, addressRules("from", "引越し元")...)
	rules = append(rules, addressRules("to", "引越し先")...)
	rules = append(rules,
		Rule{Field: FieldPeopleCount, Checks: []Check{required("引越し人数を選択してください")}},
		Rule{Field: FieldMovingDateType, Checks: []Check{required("引越し日の設定を選択してください")}},
		Rule{Field: FieldWorkStartTimeType, Checks: []Check{required("作業開始時間の設定を選択してください")}},
		Rule{
			Field:   FieldMovingSpecificDate,
			Applies: isMode(moveMode, MoveModeDecided),
			Checks: []Check{
				required("引越し日を選択してください"),
				{Pass: validDate, Message: "正しい日付を入力してください"},
				{Pass: notPast, Message: "過去の日付は選択できません"},
			},
		},
		Rule{
			Field:   FieldMovingYearMonth,
			Applies: isMode(moveMode, MoveModeUndecided),
			Checks:  []Check{required("引越しの年月を選択してください")},
		},
		Rule{
			Field:   FieldMovingPeriod,
			Applies: isMode(moveMode, MoveModeUndecided),
			Checks:  []Check{required("引越しの期間を選択してください")},
		},
		Rule{
			Field:   FieldWorkStartTime,
			Applies: isMode(workMode, WorkModeSpecific),
			Checks:  []Check{required("作業開始時間を選択してください")},
		},
	)
	return rules
}

func addressRules(prefix, label string) []Rule {
	f := func(s string) Field { return Field(prefix + s) }
	return []Rule{
		{Field: f("Zipcode"), Checks: []Check{required(label + "の郵便番号を入力してください")}},
		{Field: f("Prefecture"), Checks: []Check{required(label + "の住所を入力してください")}},
		{Field: f("BuildingType"), Checks: []Check{required(label + "の建物のタイプを選択してください")}},
		{Field: f("RoomLayout"), Checks: []Check{required(label + "の間取りを選択してください")}},
		{Field: f("Floor"), Checks: []Check{required(label + "のお住まいの階数を選択してください")}},
		{Field: f("Elevator"), Checks: []Check{required(label + "のエレベーターを選択してください")}},
	}
}

// DefaultPairRules returns the joint address checks.
func DefaultPairRules() []PairRule {
	return []PairRule{
		{
			Key:     FieldFromZipcode,
			Fields:  []Field{FieldFromZipcode, FieldFromPrefecture, FieldFromStreetAddress},
			Message: "引越し元住所を入力してください",
		},
		{
			Key:     FieldToZipcode,
			Fields:  []Field{FieldToZipcode, FieldToPrefecture, FieldToStreetAddress},
			Message: "引越し先住所を入力してください",
		},
	}
}

func validDate(v string, today time.Time) bool {
	_, err := time.ParseInLocation(dateLayout, v, today.Location())
	return err == nil
}

func notPast(v string, today time.Time) bool {
	d, err := time.ParseInLocation(dateLayout, v, today.Location())
	if err != nil {
		return false
	}
	return !d.Before(today)
}

// Validator evaluates rules against a record. Date rules compare against the
// start of the current day in the clock's location.
type Validator struct {
	rules []Rule
	pairs []PairRule
	index map[Field]int
	now   func() time.Time
}

// NewValidator returns a validator over the default rules. A nil clock uses
// time.Now.
func NewValidator(now func() time.Time) *Validator {
	return NewValidatorWithRules(DefaultRules(), DefaultPairRules(), now)
}

// NewValidatorWithRules returns a validator over the given rule tables.
func NewValidatorWithRules(rules []Rule, pairs []PairRule, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	index := make(map[Field]int, len(rules))
	for i, r := range rules {
		index[r.Field] = i
	}
	return &Validator{rules: rules, pairs: pairs, index: index, now: now}
}

func (v *Validator) today() time.Time {
	t := v.now()
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// HasRule reports whether f has a single-field rule.
func (v *Validator) HasRule(f Field) bool {
	_, ok := v.index[f]
	return ok
}

// CheckField returns the message for f, or "" when f is valid, inactive or
// has no rule.
func (v *Validator) CheckField(r *Record, f Field) string {
	i, ok := v.index[f]
	if !ok {
		return ""
	}
	return v.check(r, v.rules[i], v.today())
}

func (v *Validator) check(r *Record, rule Rule, today time.Time) string {
	if rule.Applies != nil && !rule.Applies(r) {
		return ""
	}
	value, _ := r.Get(rule.Field)
	for _, c := range rule.Checks {
		if !c.Pass(value, today) {
			return c.Message
		}
	}
	return ""
}

// Report is the outcome of a whole-form check.
type Report struct {
	// Errors holds one message per failing field.
	Errors Errors
	// Cleared lists the ruled fields that passed or were inactive.
	Cleared []Field
	// First is the first failing field in rule order, "" when valid.
	First Field
}

// Valid reports whether no field failed.
func (r Report) Valid() bool { return len(r.Errors) == 0 }

// Messages returns the messages in rule order.
func (r Report) Messages(order []Field) []string {
	var out []string
	for _, f := range order {
		if m, ok := r.Errors[f]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Order returns the field order used to pick the first error.
func (v *Validator) Order() []Field {
	order := make([]Field, 0, len(v.rules)+len(v.pairs))
	for _, r := range v.rules {
		order = append(order, r.Field)
	}
	for _, p := range v.pairs {
		if _, ok := v.index[p.Key]; !ok {
			order = append(order, p.Key)
		}
	}
	return order
}

// CheckForm evaluates every rule, then the pair rules.
func (v *Validator) CheckForm(r *Record) Report {
	today := v.today()
	rep := Report{Errors: Errors{}}
	for _, rule := range v.rules {
		if msg := v.check(r, rule, today); msg != "" {
			rep.Errors[rule.Field] = msg
		} else {
			rep.Cleared = append(rep.Cleared, rule.Field)
		}
	}
	for _, p := range v.pairs {
		for _, f := range p.Fields {
			if val, _ := r.Get(f); strings.TrimSpace(val) == "" {
				rep.Errors[p.Key] = p.Message
				break
			}
		}
	}
	cleared := rep.Cleared[:0]
	for _, f := range rep.Cleared {
		if _, failed := rep.Errors[f]; !failed {
			cleared = append(cleared, f)
		}
	}
	rep.Cleared = cleared

	for _, f := range v.Order() {
		if _, ok := rep.Errors[f]; ok {
			rep.First = f
			break
		}
	}
	return rep
}
