package estimate

import (
	"context"
	"time"

	"github.com/movebid/quoteform/internal/catalog"
)

// CategoryLister supplies the luggage catalog for sample data.
type CategoryLister interface {
	Categories(ctx context.Context) ([]catalog.Category, error)
}

// SampleRecord returns the prefilled record used in local development: a
// move thirty days from now and the first three items of every category
// with quantities 1, 2 and 3.
func SampleRecord(now time.Time, cats []catalog.Category) *Record {
	r := &Record{
		Name:         "田中 太郎",
		NameFurigana: "タナカ タロウ",
		Phone:        "090-1234-5678",
		Email:        "test@example.com",
		From: Address{
			Zipcode:         "150-0002",
			Prefecture:      "東京都渋谷区渋谷",
			StreetAddress:   "1-2-3",
			BuildingDetails: "渋谷ビル 101号室",
			Building:        Building{Type: "mansion", RoomLayout: "2LDK", Floor: "5", Elevator: "yes"},
		},
		To: Address{
			Zipcode:         "220-0011",
			Prefecture:      "神奈川県横浜市西区みなとみらい",
			StreetAddress:   "2-2-1",
			BuildingDetails: "ランドマークプラザ 205号室",
			Building:        Building{Type: "mansion", RoomLayout: "3LDK", Floor: "8", Elevator: "yes"},
		},
		PeopleCount:  "3",
		MoveDate:     MoveDateDecided{Date: now.AddDate(0, 0, 30).Format(dateLayout)},
		WorkStart:    WorkStartSpecific{Slot: "morning"},
		Luggage:      []LuggageLine{},
		OtherLuggage: "大型の観葉植物、アンティーク家具、楽器（ギター・ドラムセット）",
	}
	for _, c := range cats {
		for i, it := range c.Items {
			if i >= 3 {
				break
			}
			r.Luggage = append(r.Luggage, LuggageLine{
				ID:       it.ID,
				Name:     it.Name,
				SubLabel: it.SubLabel,
				Quantity: i + 1,
				Category: c.Code,
			})
		}
	}
	return r
}

// SampleFrom builds a SampleFunc over a catalog. A catalog that fails to
// load yields a sample without luggage.
func SampleFrom(cats CategoryLister, now func() time.Time) SampleFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) (*Record, error) {
		list, err := cats.Categories(ctx)
		if err != nil {
			list = nil
		}
		return SampleRecord(now(), list), nil
	}
}
