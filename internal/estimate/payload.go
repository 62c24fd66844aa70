package estimate

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// LuggagePayload is one inventory line sent to the backend.
type LuggagePayload struct {
	ID       string `json:"id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

// Payload is the submission body the backend accepts.
type Payload struct {
	Name         string `json:"name" validate:"required"`
	NameFurigana string `json:"name_furigana" validate:"required"`
	Phone        string `json:"phone" validate:"required"`
	Email        string `json:"email" validate:"required"`

	PeopleCount        int    `json:"people_count" validate:"gte=1"`
	MovingDateType     string `json:"moving_date_type" validate:"oneof=undecided decided"`
	MovingYearMonth    string `json:"moving_year_month" validate:"required_if=MovingDateType undecided"`
	MovingPeriod       string `json:"moving_period" validate:"required_if=MovingDateType undecided"`
	MovingSpecificDate string `json:"moving_specific_date" validate:"required_if=MovingDateType decided"`
	WorkStartTimeType  string `json:"work_start_time_type" validate:"oneof=anytime specific"`
	WorkStartTime      string `json:"work_start_time" validate:"required_if=WorkStartTimeType specific"`

	FromZipcode         string `json:"from_zipcode" validate:"required"`
	FromPrefecture      string `json:"from_prefecture" validate:"required"`
	FromStreetAddress   string `json:"from_street_address" validate:"required"`
	FromBuildingDetails string `json:"from_building_details"`
	FromBuildingType    string `json:"from_building_type" validate:"required"`
	FromRoomLayout      string `json:"from_room_layout" validate:"required"`
	FromFloor           string `json:"from_floor" validate:"required"`
	FromElevator        string `json:"from_elevator" validate:"required"`

	ToZipcode         string `json:"to_zipcode" validate:"required"`
	ToPrefecture      string `json:"to_prefecture" validate:"required"`
	ToStreetAddress   string `json:"to_street_address" validate:"required"`
	ToBuildingDetails string `json:"to_building_details"`
	ToBuildingType    string `json:"to_building_type" validate:"required"`
	ToRoomLayout      string `json:"to_room_layout" validate:"required"`
	ToFloor           string `json:"to_floor" validate:"required"`
	ToElevator        string `json:"to_elevator" validate:"required"`

	LuggageItems []LuggagePayload `json:"luggage_items" validate:"dive"`
	OtherLuggage string           `json:"other_luggage,omitempty"`
}

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// Known reports whether a luggage id exists in the catalog.
type Known func(id string) bool

// BuildPayload converts the record into the backend shape. Only lines with a
// positive quantity are sent, reduced to id and quantity; when known is set,
// ids outside the catalog are dropped too. Other luggage is trimmed and left
// out when blank.
func BuildPayload(r *Record, known Known) Payload {
	p := Payload{
		Name:         r.Name,
		NameFurigana: r.NameFurigana,
		Phone:        r.Phone,
		Email:        r.Email,

		MovingDateType:     r.MoveDate.Mode(),
		MovingYearMonth:    trimmed(r, FieldMovingYearMonth),
		MovingPeriod:       trimmed(r, FieldMovingPeriod),
		MovingSpecificDate: trimmed(r, FieldMovingSpecificDate),
		WorkStartTimeType:  r.WorkStart.Mode(),
		WorkStartTime:      trimmed(r, FieldWorkStartTime),

		FromZipcode:         r.From.Zipcode,
		FromPrefecture:      r.From.Prefecture,
		FromStreetAddress:   r.From.StreetAddress,
		FromBuildingDetails: r.From.BuildingDetails,
		FromBuildingType:    r.From.Building.Type,
		FromRoomLayout:      r.From.Building.RoomLayout,
		FromFloor:           r.From.Building.Floor,
		FromElevator:        r.From.Building.Elevator,

		ToZipcode:         r.To.Zipcode,
		ToPrefecture:      r.To.Prefecture,
		ToStreetAddress:   r.To.StreetAddress,
		ToBuildingDetails: r.To.BuildingDetails,
		ToBuildingType:    r.To.Building.Type,
		ToRoomLayout:      r.To.Building.RoomLayout,
		ToFloor:           r.To.Building.Floor,
		ToElevator:        r.To.Building.Elevator,

		LuggageItems: make([]LuggagePayload, 0, len(r.Luggage)),
		OtherLuggage: strings.TrimSpace(r.OtherLuggage),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(r.PeopleCount)); err == nil {
		p.PeopleCount = n
	}
	for _, l := range r.Luggage {
		if l.Quantity <= 0 {
			continue
		}
		if known != nil && !known(l.ID) {
			continue
		}
		p.LuggageItems = append(p.LuggageItems, LuggagePayload{ID: l.ID, Quantity: l.Quantity})
	}
	return p
}

// Validate checks the payload's structural constraints.
func (p Payload) Validate() error {
	return payloadValidator.Struct(p)
}
