// Package options holds the static enumerations offered by the estimate form
// (building type, room layout, floor, schedule modes, ...). The values are
// declared in options.cue and decoded once at start-up.
package options

import (
	_ "embed"
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed options.cue
var source []byte

// Group names. They match the form field names without the from/to prefix.
const (
	PeopleCount       = "peopleCount"
	MovingDateType    = "movingDateType"
	MovingYearMonth   = "movingYearMonth"
	MovingPeriod      = "movingPeriod"
	WorkStartTimeType = "workStartTimeType"
	WorkStartTime     = "workStartTime"
	BuildingType      = "buildingType"
	RoomLayout        = "roomLayout"
	Floor             = "floor"
	Elevator          = "elevator"
)

// yearMonthSpan is how many months after the current one are offered.
const yearMonthSpan = 12

// Option is one selectable value.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Registry is the decoded option set. Safe for concurrent reads.
type Registry struct {
	groups map[string][]Option
	now    func() time.Time
}

// Load decodes the embedded option declarations.
func Load() (*Registry, error) {
	return parse(source)
}

// MustLoad is Load for package-level initialisation in tests and main.
func MustLoad() *Registry {
	r, err := Load()
	if err != nil {
		panic(err)
	}
	return r
}

func parse(src []byte) (*Registry, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(src, cue.Filename("options.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("compiling options: %w", err)
	}

	groups := make(map[string][]Option)
	if err := val.LookupPath(cue.ParsePath("groups")).Decode(&groups); err != nil {
		return nil, fmt.Errorf("decoding options: %w", err)
	}
	for name, opts := range groups {
		if len(opts) == 0 {
			return nil, fmt.Errorf("option group %q is empty", name)
		}
	}
	return &Registry{groups: groups, now: time.Now}, nil
}

// Options returns the options of a group in display order. movingYearMonth
// is generated from the current month.
func (r *Registry) Options(group string) []Option {
	if group == MovingYearMonth {
		return YearMonthOptions(r.now())
	}
	return r.groups[group]
}

// Label returns the display label for value, or value itself when the group
// does not declare it.
func (r *Registry) Label(group, value string) string {
	for _, o := range r.Options(group) {
		if o.Value == value {
			return o.Label
		}
	}
	return value
}

// Contains reports whether value is declared in group.
func (r *Registry) Contains(group, value string) bool {
	for _, o := range r.Options(group) {
		if o.Value == value {
			return true
		}
	}
	return false
}

// Groups returns the declared group names.
func (r *Registry) Groups() []string {
	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	return names
}

// YearMonthOptions lists the month of now and the following 12 months.
func YearMonthOptions(now time.Time) []Option {
	opts := make([]Option, 0, yearMonthSpan+1)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for i := 0; i <= yearMonthSpan; i++ {
		m := first.AddDate(0, i, 0)
		opts = append(opts, Option{
			Value: fmt.Sprintf("%04d-%02d", m.Year(), int(m.Month())),
			Label: fmt.Sprintf("%d年%d月", m.Year(), int(m.Month())),
		})
	}
	return opts
}
