// Package estimate implements the moving-estimate intake form: the record and
// its invariants, the session-backed form store, the validation rules, the
// entry → confirmation → submission step controller and the backend payload.
package estimate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Field is a form field key. Keys match the names the browser posts.
type Field string

const (
	FieldName         Field = "name"
	FieldNameFurigana Field = "nameFurigana"
	FieldPhone        Field = "phone"
	FieldEmail        Field = "email"

	FieldPeopleCount        Field = "peopleCount"
	FieldMovingDateType     Field = "movingDateType"
	FieldMovingYearMonth    Field = "movingYearMonth"
	FieldMovingPeriod       Field = "movingPeriod"
	FieldMovingSpecificDate Field = "movingSpecificDate"
	FieldWorkStartTimeType  Field = "workStartTimeType"
	FieldWorkStartTime      Field = "workStartTime"

	FieldFromZipcode         Field = "fromZipcode"
	FieldFromPrefecture      Field = "fromPrefecture"
	FieldFromStreetAddress   Field = "fromStreetAddress"
	FieldFromBuildingDetails Field = "fromBuildingDetails"
	FieldFromBuildingType    Field = "fromBuildingType"
	FieldFromRoomLayout      Field = "fromRoomLayout"
	FieldFromFloor           Field = "fromFloor"
	FieldFromElevator        Field = "fromElevator"

	FieldToZipcode         Field = "toZipcode"
	FieldToPrefecture      Field = "toPrefecture"
	FieldToStreetAddress   Field = "toStreetAddress"
	FieldToBuildingDetails Field = "toBuildingDetails"
	FieldToBuildingType    Field = "toBuildingType"
	FieldToRoomLayout      Field = "toRoomLayout"
	FieldToFloor           Field = "toFloor"
	FieldToElevator        Field = "toElevator"

	FieldOtherLuggage Field = "otherLuggage"
)

// Fields lists every text field in form order.
var Fields = []Field{
	FieldName, FieldNameFurigana, FieldPhone, FieldEmail,
	FieldFromZipcode, FieldFromPrefecture, FieldFromStreetAddress, FieldFromBuildingDetails,
	FieldFromBuildingType, FieldFromRoomLayout, FieldFromFloor, FieldFromElevator,
	FieldToZipcode, FieldToPrefecture, FieldToStreetAddress, FieldToBuildingDetails,
	FieldToBuildingType, FieldToRoomLayout, FieldToFloor, FieldToElevator,
	FieldPeopleCount,
	FieldMovingDateType, FieldMovingYearMonth, FieldMovingPeriod, FieldMovingSpecificDate,
	FieldWorkStartTimeType, FieldWorkStartTime,
	FieldOtherLuggage,
}

// Mode values and fixed building values.
const (
	MoveModeUndecided = "undecided"
	MoveModeDecided   = "decided"

	WorkModeAnytime  = "anytime"
	WorkModeSpecific = "specific"

	BuildingHouse = "house"
	GroundFloor   = "1"
)

var (
	// ErrUnknownField is returned for keys that are not form fields.
	ErrUnknownField = errors.New("estimate: unknown field")
	// ErrInvalidMode is returned when a mode field gets a value outside its set.
	ErrInvalidMode = errors.New("estimate: invalid mode value")
	// ErrFieldInactive is returned when a dependent field is written while its
	// mode selects the other branch.
	ErrFieldInactive = errors.New("estimate: field inactive for current mode")
	// ErrFloorLocked is returned when the floor of a detached house is changed.
	ErrFloorLocked = errors.New("estimate: floor is fixed for detached houses")
	// ErrNegativeQuantity is returned for luggage quantities below zero.
	ErrNegativeQuantity = errors.New("estimate: quantity must not be negative")
)

// MoveDate is the move-date selection. Exactly one branch is populated.
type MoveDate interface {
	Mode() string
	moveDate()
}

// MoveDateUnset means no mode has been chosen yet.
type MoveDateUnset struct{}

// MoveDateUndecided carries the rough month and period of month.
type MoveDateUndecided struct {
	YearMonth string
	Period    string
}

// MoveDateDecided carries a calendar date (YYYY-MM-DD).
type MoveDateDecided struct {
	Date string
}

func (MoveDateUnset) Mode() string     { return "" }
func (MoveDateUndecided) Mode() string { return MoveModeUndecided }
func (MoveDateDecided) Mode() string   { return MoveModeDecided }
func (MoveDateUnset) moveDate()        {}
func (MoveDateUndecided) moveDate()    {}
func (MoveDateDecided) moveDate()      {}

// WorkStart is the work-start-time selection.
type WorkStart interface {
	Mode() string
	workStart()
}

// WorkStartUnset means no mode has been chosen yet.
type WorkStartUnset struct{}

// WorkStartAnytime means any start time is acceptable.
type WorkStartAnytime struct{}

// WorkStartSpecific carries the requested time slot.
type WorkStartSpecific struct {
	Slot string
}

func (WorkStartUnset) Mode() string    { return "" }
func (WorkStartAnytime) Mode() string  { return WorkModeAnytime }
func (WorkStartSpecific) Mode() string { return WorkModeSpecific }
func (WorkStartUnset) workStart()      {}
func (WorkStartAnytime) workStart()    {}
func (WorkStartSpecific) workStart()   {}

// Building describes the dwelling at one end of the move.
type Building struct {
	Type       string
	RoomLayout string
	Floor      string
	Elevator   string
}

// FloorLocked reports whether the floor is pinned to the ground floor.
func (b Building) FloorLocked() bool { return b.Type == BuildingHouse }

// Address is one end of the move.
type Address struct {
	Zipcode         string
	Prefecture      string
	StreetAddress   string
	BuildingDetails string
	Building        Building
}

// LuggageLine is one inventory entry. Zero quantities are kept in memory.
type LuggageLine struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SubLabel string `json:"subLabel,omitempty"`
	Quantity int    `json:"quantity"`
	Category string `json:"category"`
}

// Record is the single form aggregate.
type Record struct {
	Name         string
	NameFurigana string
	Phone        string
	Email        string

	From Address
	To   Address

	PeopleCount string
	MoveDate    MoveDate
	WorkStart   WorkStart

	Luggage      []LuggageLine
	OtherLuggage string
}

// NewRecord returns an all-empty record.
func NewRecord() *Record {
	return &Record{
		MoveDate:  MoveDateUnset{},
		WorkStart: WorkStartUnset{},
		Luggage:   []LuggageLine{},
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Luggage = append([]LuggageLine{}, r.Luggage...)
	return &c
}

// HasData reports whether any field holds a non-blank value.
func (r *Record) HasData() bool {
	for _, f := range Fields {
		if v, _ := r.Get(f); strings.TrimSpace(v) != "" {
			return true
		}
	}
	return len(r.Luggage) > 0
}

// Quantity returns the selected quantity of an item, zero when absent.
func (r *Record) Quantity(id string) int {
	for _, l := range r.Luggage {
		if l.ID == id {
			return l.Quantity
		}
	}
	return 0
}

func (r *Record) side(f Field) (*Address, string, bool) {
	s := string(f)
	switch {
	case strings.HasPrefix(s, "from"):
		return &r.From, strings.TrimPrefix(s, "from"), true
	case strings.HasPrefix(s, "to"):
		return &r.To, strings.TrimPrefix(s, "to"), true
	}
	return nil, "", false
}

// Get returns the value of f. Dependent fields of an inactive branch read as
// empty.
func (r *Record) Get(f Field) (string, error) {
	switch f {
	case FieldName:
		return r.Name, nil
	case FieldNameFurigana:
		return r.NameFurigana, nil
	case FieldPhone:
		return r.Phone, nil
	case FieldEmail:
		return r.Email, nil
	case FieldPeopleCount:
		return r.PeopleCount, nil
	case FieldMovingDateType:
		return r.MoveDate.Mode(), nil
	case FieldMovingYearMonth:
		if u, ok := r.MoveDate.(MoveDateUndecided); ok {
			return u.YearMonth, nil
		}
		return "", nil
	case FieldMovingPeriod:
		if u, ok := r.MoveDate.(MoveDateUndecided); ok {
			return u.Period, nil
		}
		return "", nil
	case FieldMovingSpecificDate:
		if d, ok := r.MoveDate.(MoveDateDecided); ok {
			return d.Date, nil
		}
		return "", nil
	case FieldWorkStartTimeType:
		return r.WorkStart.Mode(), nil
	case FieldWorkStartTime:
		if s, ok := r.WorkStart.(WorkStartSpecific); ok {
			return s.Slot, nil
		}
		return "", nil
	case FieldOtherLuggage:
		return r.OtherLuggage, nil
	}

	addr, attr, ok := r.side(f)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	switch attr {
	case "Zipcode":
		return addr.Zipcode, nil
	case "Prefecture":
		return addr.Prefecture, nil
	case "StreetAddress":
		return addr.StreetAddress, nil
	case "BuildingDetails":
		return addr.BuildingDetails, nil
	case "BuildingType":
		return addr.Building.Type, nil
	case "RoomLayout":
		return addr.Building.RoomLayout, nil
	case "Floor":
		return addr.Building.Floor, nil
	case "Elevator":
		return addr.Building.Elevator, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownField, f)
}

// Set writes value to f and applies the cross-field invariants. It returns
// every field whose value was touched, f first.
func (r *Record) Set(f Field, value string) ([]Field, error) {
	switch f {
	case FieldName:
		r.Name = value
	case FieldNameFurigana:
		r.NameFurigana = value
	case FieldPhone:
		r.Phone = value
	case FieldEmail:
		r.Email = value
	case FieldPeopleCount:
		r.PeopleCount = value
	case FieldOtherLuggage:
		r.OtherLuggage = value

	case FieldMovingDateType:
		return r.setMoveMode(value)
	case FieldMovingYearMonth, FieldMovingPeriod:
		u, ok := r.MoveDate.(MoveDateUndecided)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldInactive, f)
		}
		if f == FieldMovingYearMonth {
			u.YearMonth = value
		} else {
			u.Period = value
		}
		r.MoveDate = u
	case FieldMovingSpecificDate:
		if _, ok := r.MoveDate.(MoveDateDecided); !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldInactive, f)
		}
		r.MoveDate = MoveDateDecided{Date: value}

	case FieldWorkStartTimeType:
		return r.setWorkMode(value)
	case FieldWorkStartTime:
		if _, ok := r.WorkStart.(WorkStartSpecific); !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldInactive, f)
		}
		r.WorkStart = WorkStartSpecific{Slot: value}

	default:
		return r.setAddress(f, value)
	}
	return []Field{f}, nil
}

func (r *Record) setMoveMode(mode string) ([]Field, error) {
	if mode == r.MoveDate.Mode() {
		return []Field{FieldMovingDateType}, nil
	}
	switch mode {
	case "":
		r.MoveDate = MoveDateUnset{}
	case MoveModeUndecided:
		r.MoveDate = MoveDateUndecided{}
	case MoveModeDecided:
		r.MoveDate = MoveDateDecided{}
	default:
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidMode, FieldMovingDateType, mode)
	}
	return []Field{FieldMovingDateType, FieldMovingSpecificDate, FieldMovingYearMonth, FieldMovingPeriod}, nil
}

func (r *Record) setWorkMode(mode string) ([]Field, error) {
	if mode == r.WorkStart.Mode() {
		return []Field{FieldWorkStartTimeType}, nil
	}
	switch mode {
	case "":
		r.WorkStart = WorkStartUnset{}
	case WorkModeAnytime:
		r.WorkStart = WorkStartAnytime{}
	case WorkModeSpecific:
		r.WorkStart = WorkStartSpecific{}
	default:
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidMode, FieldWorkStartTimeType, mode)
	}
	return []Field{FieldWorkStartTimeType, FieldWorkStartTime}, nil
}

func (r *Record) setAddress(f Field, value string) ([]Field, error) {
	addr, attr, ok := r.side(f)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	prefix := strings.TrimSuffix(string(f), attr)
	floor := Field(prefix + "Floor")

	switch attr {
	case "Zipcode":
		addr.Zipcode = value
	case "Prefecture":
		addr.Prefecture = value
	case "StreetAddress":
		addr.StreetAddress = value
	case "BuildingDetails":
		addr.BuildingDetails = value
	case "RoomLayout":
		addr.Building.RoomLayout = value
	case "Elevator":
		addr.Building.Elevator = value
	case "Floor":
		if addr.Building.FloorLocked() && value != GroundFloor {
			return nil, fmt.Errorf("%w: %s", ErrFloorLocked, f)
		}
		addr.Building.Floor = value
	case "BuildingType":
		if value == addr.Building.Type {
			return []Field{f}, nil
		}
		addr.Building.Type = value
		if value == BuildingHouse {
			addr.Building.Floor = GroundFloor
		} else {
			addr.Building.Floor = ""
		}
		return []Field{f, floor}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	return []Field{f}, nil
}

// wireRecord is the persisted shape: one flat object keyed by field name.
type wireRecord struct {
	Name               string        `json:"name"`
	NameFurigana       string        `json:"nameFurigana"`
	Phone              string        `json:"phone"`
	Email              string        `json:"email"`
	PeopleCount        string        `json:"peopleCount"`
	MovingDateType     string        `json:"movingDateType"`
	MovingYearMonth    string        `json:"movingYearMonth"`
	MovingPeriod       string        `json:"movingPeriod"`
	MovingSpecificDate string        `json:"movingSpecificDate"`
	WorkStartTimeType  string        `json:"workStartTimeType"`
	WorkStartTime      string        `json:"workStartTime"`
	FromZipcode        string        `json:"fromZipcode"`
	FromPrefecture     string        `json:"fromPrefecture"`
	FromStreetAddress  string        `json:"fromStreetAddress"`
	FromBuildingDetail string        `json:"fromBuildingDetails"`
	FromBuildingType   string        `json:"fromBuildingType"`
	FromRoomLayout     string        `json:"fromRoomLayout"`
	FromFloor          string        `json:"fromFloor"`
	FromElevator       string        `json:"fromElevator"`
	ToZipcode          string        `json:"toZipcode"`
	ToPrefecture       string        `json:"toPrefecture"`
	ToStreetAddress    string        `json:"toStreetAddress"`
	ToBuildingDetail   string        `json:"toBuildingDetails"`
	ToBuildingType     string        `json:"toBuildingType"`
	ToRoomLayout       string        `json:"toRoomLayout"`
	ToFloor            string        `json:"toFloor"`
	ToElevator         string        `json:"toElevator"`
	LuggageItems       []LuggageLine `json:"luggageItems"`
	OtherLuggage       string        `json:"otherLuggage"`
}

// MarshalJSON writes the flat field-keyed object.
func (r *Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		Name:               r.Name,
		NameFurigana:       r.NameFurigana,
		Phone:              r.Phone,
		Email:              r.Email,
		PeopleCount:        r.PeopleCount,
		MovingDateType:     r.MoveDate.Mode(),
		WorkStartTimeType:  r.WorkStart.Mode(),
		FromZipcode:        r.From.Zipcode,
		FromPrefecture:     r.From.Prefecture,
		FromStreetAddress:  r.From.StreetAddress,
		FromBuildingDetail: r.From.BuildingDetails,
		FromBuildingType:   r.From.Building.Type,
		FromRoomLayout:     r.From.Building.RoomLayout,
		FromFloor:          r.From.Building.Floor,
		FromElevator:       r.From.Building.Elevator,
		ToZipcode:          r.To.Zipcode,
		ToPrefecture:       r.To.Prefecture,
		ToStreetAddress:    r.To.StreetAddress,
		ToBuildingDetail:   r.To.BuildingDetails,
		ToBuildingType:     r.To.Building.Type,
		ToRoomLayout:       r.To.Building.RoomLayout,
		ToFloor:            r.To.Building.Floor,
		ToElevator:         r.To.Building.Elevator,
		LuggageItems:       r.Luggage,
		OtherLuggage:       r.OtherLuggage,
	}
	switch md := r.MoveDate.(type) {
	case MoveDateUndecided:
		w.MovingYearMonth, w.MovingPeriod = md.YearMonth, md.Period
	case MoveDateDecided:
		w.MovingSpecificDate = md.Date
	}
	if ws, ok := r.WorkStart.(WorkStartSpecific); ok {
		w.WorkStartTime = ws.Slot
	}
	if w.LuggageItems == nil {
		w.LuggageItems = []LuggageLine{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the flat object. Fields of the branch not selected by
// a mode are dropped, unknown mode values reset the mode, and a detached
// house gets its ground floor back.
func (r *Record) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Record{
		Name:         w.Name,
		NameFurigana: w.NameFurigana,
		Phone:        w.Phone,
		Email:        w.Email,
		PeopleCount:  w.PeopleCount,
		From: Address{
			Zipcode:         w.FromZipcode,
			Prefecture:      w.FromPrefecture,
			StreetAddress:   w.FromStreetAddress,
			BuildingDetails: w.FromBuildingDetail,
			Building: Building{
				Type: w.FromBuildingType, RoomLayout: w.FromRoomLayout,
				Floor: w.FromFloor, Elevator: w.FromElevator,
			},
		},
		To: Address{
			Zipcode:         w.ToZipcode,
			Prefecture:      w.ToPrefecture,
			StreetAddress:   w.ToStreetAddress,
			BuildingDetails: w.ToBuildingDetail,
			Building: Building{
				Type: w.ToBuildingType, RoomLayout: w.ToRoomLayout,
				Floor: w.ToFloor, Elevator: w.ToElevator,
			},
		},
		Luggage:      w.LuggageItems,
		OtherLuggage: w.OtherLuggage,
	}
	if r.Luggage == nil {
		r.Luggage = []LuggageLine{}
	}
	for _, b := range []*Building{&r.From.Building, &r.To.Building} {
		if b.FloorLocked() {
			b.Floor = GroundFloor
		}
	}

	switch w.MovingDateType {
	case MoveModeUndecided:
		r.MoveDate = MoveDateUndecided{YearMonth: w.MovingYearMonth, Period: w.MovingPeriod}
	case MoveModeDecided:
		r.MoveDate = MoveDateDecided{Date: w.MovingSpecificDate}
	default:
		r.MoveDate = MoveDateUnset{}
	}
	switch w.WorkStartTimeType {
	case WorkModeAnytime:
		r.WorkStart = WorkStartAnytime{}
	case WorkModeSpecific:
		r.WorkStart = WorkStartSpecific{Slot: w.WorkStartTime}
	default:
		r.WorkStart = WorkStartUnset{}
	}
	return nil
}
