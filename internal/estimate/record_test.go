package estimate

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_MoveDateSwitchClearsOtherBranch(t *testing.T) {
	r := NewRecord()
	_, err := r.Set(FieldMovingDateType, MoveModeDecided)
	require.NoError(t, err)
	_, err = r.Set(FieldMovingSpecificDate, "2026-11-20")
	require.NoError(t, err)

	touched, err := r.Set(FieldMovingDateType, MoveModeUndecided)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]Field{FieldMovingDateType, FieldMovingSpecificDate, FieldMovingYearMonth, FieldMovingPeriod}, touched)
	assert.Equal(t, MoveDateUndecided{}, r.MoveDate)

	_, err = r.Set(FieldMovingYearMonth, "2026-11")
	require.NoError(t, err)
	_, err = r.Set(FieldMovingPeriod, "early")
	require.NoError(t, err)

	_, err = r.Set(FieldMovingDateType, MoveModeDecided)
	require.NoError(t, err)
	assert.Equal(t, MoveDateDecided{}, r.MoveDate, "specific date does not come back")
	ym, _ := r.Get(FieldMovingYearMonth)
	assert.Empty(t, ym)
}

func TestRecord_SameModeIsNoOp(t *testing.T) {
	r := NewRecord()
	r.Set(FieldMovingDateType, MoveModeDecided)
	r.Set(FieldMovingSpecificDate, "2026-11-20")

	touched, err := r.Set(FieldMovingDateType, MoveModeDecided)
	require.NoError(t, err)
	assert.Equal(t, []Field{FieldMovingDateType}, touched)
	assert.Equal(t, MoveDateDecided{Date: "2026-11-20"}, r.MoveDate)
}

func TestRecord_InactiveFieldRejected(t *testing.T) {
	r := NewRecord()
	_, err := r.Set(FieldMovingYearMonth, "2026-11")
	assert.ErrorIs(t, err, ErrFieldInactive)
	_, err = r.Set(FieldMovingSpecificDate, "2026-11-20")
	assert.ErrorIs(t, err, ErrFieldInactive)
	_, err = r.Set(FieldWorkStartTime, "morning")
	assert.ErrorIs(t, err, ErrFieldInactive)

	r.Set(FieldWorkStartTimeType, WorkModeAnytime)
	_, err = r.Set(FieldWorkStartTime, "morning")
	assert.ErrorIs(t, err, ErrFieldInactive)
}

func TestRecord_InvalidMode(t *testing.T) {
	r := NewRecord()
	_, err := r.Set(FieldMovingDateType, "someday")
	assert.ErrorIs(t, err, ErrInvalidMode)
	_, err = r.Set(FieldWorkStartTimeType, "specified")
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, MoveDateUnset{}, r.MoveDate)
}

func TestRecord_WorkStartSpecificStartsEmpty(t *testing.T) {
	r := NewRecord()
	r.Set(FieldWorkStartTimeType, WorkModeSpecific)
	r.Set(FieldWorkStartTime, "morning")

	touched, err := r.Set(FieldWorkStartTimeType, WorkModeAnytime)
	require.NoError(t, err)
	assert.Contains(t, touched, FieldWorkStartTime)

	r.Set(FieldWorkStartTimeType, WorkModeSpecific)
	slot, _ := r.Get(FieldWorkStartTime)
	assert.Empty(t, slot)
}

func TestRecord_HouseLocksGroundFloor(t *testing.T) {
	r := NewRecord()
	r.Set(FieldFromFloor, "7")

	touched, err := r.Set(FieldFromBuildingType, BuildingHouse)
	require.NoError(t, err)
	assert.Equal(t, []Field{FieldFromBuildingType, FieldFromFloor}, touched)
	assert.Equal(t, GroundFloor, r.From.Building.Floor)
	assert.True(t, r.From.Building.FloorLocked())

	_, err = r.Set(FieldFromFloor, "3")
	assert.ErrorIs(t, err, ErrFloorLocked)
	_, err = r.Set(FieldFromFloor, GroundFloor)
	assert.NoError(t, err)

	_, err = r.Set(FieldFromBuildingType, "mansion")
	require.NoError(t, err)
	assert.Empty(t, r.From.Building.Floor)
	assert.Empty(t, r.To.Building.Floor, "other side untouched")
}

func TestRecord_ReselectBuildingTypeKeepsFloor(t *testing.T) {
	r := NewRecord()
	r.Set(FieldToBuildingType, "mansion")
	r.Set(FieldToFloor, "12")

	touched, err := r.Set(FieldToBuildingType, "mansion")
	require.NoError(t, err)
	assert.Equal(t, []Field{FieldToBuildingType}, touched)
	assert.Equal(t, "12", r.To.Building.Floor)
}

func TestRecord_UnknownField(t *testing.T) {
	r := NewRecord()
	_, err := r.Set("fromGarage", "x")
	assert.ErrorIs(t, err, ErrUnknownField)
	_, err = r.Get("nickname")
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestRecord_GetSetEveryField(t *testing.T) {
	r := NewRecord()
	r.Set(FieldMovingDateType, MoveModeUndecided)
	r.Set(FieldWorkStartTimeType, WorkModeSpecific)
	for _, f := range Fields {
		if f == FieldMovingDateType || f == FieldWorkStartTimeType || f == FieldMovingSpecificDate {
			continue
		}
		_, err := r.Set(f, "v-"+string(f))
		require.NoError(t, err, f)
		got, err := r.Get(f)
		require.NoError(t, err)
		assert.Equal(t, "v-"+string(f), got, f)
	}
}

func TestRecord_JSONRoundTrip(t *testing.T) {
	want := validRecord()
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "decided", flat["movingDateType"])
	assert.Equal(t, "", flat["movingYearMonth"])
	assert.Equal(t, "2LDK", flat["fromRoomLayout"])

	got := NewRecord()
	require.NoError(t, json.Unmarshal(raw, got))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRecord_UnmarshalNormalizes(t *testing.T) {
	raw := `{
		"movingDateType": "decided",
		"movingYearMonth": "2026-11",
		"movingSpecificDate": "2026-11-20",
		"workStartTimeType": "specified",
		"workStartTime": "morning",
		"fromBuildingType": "house",
		"fromFloor": "",
		"legacyField": "ignored"
	}`
	got := NewRecord()
	require.NoError(t, json.Unmarshal([]byte(raw), got))

	want := NewRecord()
	want.MoveDate = MoveDateDecided{Date: "2026-11-20"}
	want.From.Building = Building{Type: BuildingHouse, Floor: GroundFloor}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("normalized record mismatch (-want +got):\n%s", diff)
	}
}

func TestRecord_UnmarshalRejectsWrongShape(t *testing.T) {
	got := NewRecord()
	assert.Error(t, json.Unmarshal([]byte(`{"luggageItems": "many"}`), got))
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), got))
}

func TestRecord_HasData(t *testing.T) {
	r := NewRecord()
	assert.False(t, r.HasData())

	r.Name = "   "
	assert.False(t, r.HasData(), "blank strings do not count")

	r.Luggage = append(r.Luggage, LuggageLine{ID: "lg-001", Quantity: 0})
	assert.True(t, r.HasData())

	r = NewRecord()
	r.Set(FieldMovingDateType, MoveModeUndecided)
	assert.True(t, r.HasData())
}

func TestRecord_CloneIsDeep(t *testing.T) {
	r := validRecord()
	c := r.Clone()
	c.Luggage[0].Quantity = 99
	c.Name = "changed"
	assert.Equal(t, 1, r.Luggage[0].Quantity)
	assert.Equal(t, "田中 太郎", r.Name)
}
