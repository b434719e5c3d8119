package mongostore

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/MikeSquared-Agency/tenere/internal/ledger"
)

func TestModelRoundTrip(t *testing.T) {
	cost := 59.9
	tests := []struct {
		name string
		cost *float64
	}{
		{"known cost", &cost},
		{"unknown cost", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ledger.Entry{
				ID:         uuid.New(),
				Owner:      "U1",
				Timestamp:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
				Odometer:   1000,
				FuelVolume: 40,
				FuelCost:   tt.cost,
				FullTank:   true,
				CreatedAt:  time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC),
			}

			raw, err := bson.Marshal(toModel(e))
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var doc bson.M
			if err := bson.Unmarshal(raw, &doc); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if _, ok := doc["fuel_cost"]; ok != (tt.cost != nil) {
				t.Errorf("fuel_cost present=%v, want %v", ok, tt.cost != nil)
			}

			var m entryModel
			if err := bson.Unmarshal(raw, &m); err != nil {
				t.Fatalf("unmarshal model: %v", err)
			}
			got, err := fromModel(&m)
			if err != nil {
				t.Fatalf("fromModel: %v", err)
			}
			if got.ID != e.ID || !got.Timestamp.Equal(e.Timestamp) || got.Odometer != e.Odometer {
				t.Errorf("got %+v, want %+v", got, e)
			}
			if (got.FuelCost == nil) != (e.FuelCost == nil) {
				t.Errorf("fuel cost known mismatch")
			}
		})
	}
}

func TestFromModelBadID(t *testing.T) {
	if _, err := fromModel(&entryModel{ID: "not-a-uuid"}); err == nil {
		t.Error("expected error for malformed id")
	}
}
