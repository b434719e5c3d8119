package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func cost(v float64) *float64 { return &v }

func newTestLedger() (*Ledger, *MemoryBackend) {
	b := NewMemoryBackend()
	return New(b, Options{PageSize: 2}, discardLogger()), b
}

func TestAppend_StoresEntry(t *testing.T) {
	l, b := newTestLedger()
	ctx := context.Background()

	e, err := l.Append(ctx, "U1", Candidate{Timestamp: t0, Odometer: 1000, FuelVolume: 40, FullTank: true})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if e.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected server-assigned id")
	}
	if e.Owner != "U1" || e.Odometer != 1000 || e.FuelVolume != 40 || !e.FullTank {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.FuelCost != nil {
		t.Errorf("expected unknown cost, got %v", *e.FuelCost)
	}
	if !e.Timestamp.Equal(t0) {
		t.Errorf("expected timestamp %v, got %v", t0, e.Timestamp)
	}
	if b.Len("U1") != 1 {
		t.Errorf("expected 1 stored entry, got %d", b.Len("U1"))
	}
}

func TestAppend_Validation(t *testing.T) {
	tests := []struct {
		name  string
		cand  Candidate
		field string
	}{
		{"zero volume", Candidate{Timestamp: t0, Odometer: 10, FuelVolume: 0}, "fuel_volume"},
		{"negative volume", Candidate{Timestamp: t0, Odometer: 10, FuelVolume: -1}, "fuel_volume"},
		{"negative odometer", Candidate{Timestamp: t0, Odometer: -5, FuelVolume: 10}, "odometer"},
		{"negative cost", Candidate{Timestamp: t0, Odometer: 5, FuelVolume: 10, FuelCost: cost(-2)}, "fuel_cost"},
		{"missing timestamp", Candidate{Odometer: 5, FuelVolume: 10}, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, b := newTestLedger()
			_, err := l.Append(context.Background(), "U1", tt.cand)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
			if b.Len("U1") != 0 {
				t.Error("expected nothing stored")
			}
		})
	}
}

func TestAppend_DecreasingOdometerRejected(t *testing.T) {
	l, b := newTestLedger()
	ctx := context.Background()

	first, err := l.Append(ctx, "U1", Candidate{Timestamp: t0, Odometer: 1000, FuelVolume: 40, FullTank: true})
	if err != nil {
		t.Fatalf("first append: %v", err)
	}

	_, err = l.Append(ctx, "U1", Candidate{Timestamp: t0.Add(time.Hour), Odometer: 900, FuelVolume: 40, FullTank: true})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "odometer" {
		t.Fatalf("expected odometer ValidationError, got %v", err)
	}

	latest, ok, err := l.Latest(ctx, "U1")
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if latest != first {
		t.Errorf("prior entry changed: got %+v, want %+v", latest, first)
	}
	if b.Len("U1") != 1 {
		t.Errorf("expected 1 stored entry, got %d", b.Len("U1"))
	}
}

func TestAppend_TimestampMustIncrease(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	if _, err := l.Append(ctx, "U1", Candidate{Timestamp: t0, Odometer: 1000, FuelVolume: 40}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, err := l.Append(ctx, "U1", Candidate{Timestamp: t0, Odometer: 1100, FuelVolume: 40})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "timestamp" {
		t.Fatalf("expected timestamp ValidationError, got %v", err)
	}
}

func TestAppend_OwnersAreIndependent(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	if _, err := l.Append(ctx, "U1", Candidate{Timestamp: t0, Odometer: 5000, FuelVolume: 40}); err != nil {
		t.Fatalf("U1 append: %v", err)
	}
	if _, err := l.Append(ctx, "U2", Candidate{Timestamp: t0, Odometer: 100, FuelVolume: 40}); err != nil {
		t.Errorf("U2 append should not see U1's odometer: %v", err)
	}
}

type stubBackend struct {
	*MemoryBackend
	appendErr error
	block     bool
}

func (s *stubBackend) AppendEntry(ctx context.Context, e Entry) (Entry, error) {
	if s.block {
		<-ctx.Done()
		return Entry{}, ctx.Err()
	}
	if s.appendErr != nil {
		return Entry{}, s.appendErr
	}
	return s.MemoryBackend.AppendEntry(ctx, e)
}

func TestAppend_TimeoutClassified(t *testing.T) {
	b := &stubBackend{MemoryBackend: NewMemoryBackend(), block: true}
	l := New(b, Options{Timeout: 10 * time.Millisecond}, discardLogger())

	_, err := l.Append(context.Background(), "U1", Candidate{Timestamp: t0, Odometer: 1, FuelVolume: 1})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("expected timeout to be transient")
	}
}

func TestAppend_StorageFaultClassified(t *testing.T) {
	b := &stubBackend{MemoryBackend: NewMemoryBackend(), appendErr: errors.New("disk on fire")}
	l := New(b, Options{}, discardLogger())

	_, err := l.Append(context.Background(), "U1", Candidate{Timestamp: t0, Odometer: 1, FuelVolume: 1})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if IsValidation(err) {
		t.Error("storage fault must not be a validation error")
	}
}

func TestAppend_BackendConflictIsValidation(t *testing.T) {
	b := &stubBackend{MemoryBackend: NewMemoryBackend(), appendErr: ErrConflict}
	l := New(b, Options{}, discardLogger())

	_, err := l.Append(context.Background(), "U1", Candidate{Timestamp: t0, Odometer: 1, FuelVolume: 1})
	if !IsValidation(err) {
		t.Fatalf("expected ValidationError from raced conflict, got %v", err)
	}
}

func TestList_PagesInOrder(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, "U1", Candidate{
			Timestamp:  t0.Add(time.Duration(i) * time.Hour),
			Odometer:   float64(1000 + i*100),
			FuelVolume: 30,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := l.Entries(ctx, "U1", Range{})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 entries across pages, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("entries out of order at %d", i)
		}
	}

	ranged, err := l.Entries(ctx, "U1", Range{From: t0.Add(time.Hour), To: t0.Add(3 * time.Hour)})
	if err != nil {
		t.Fatalf("ranged Entries: %v", err)
	}
	if len(ranged) != 2 {
		t.Fatalf("expected 2 entries in [1h,3h), got %d", len(ranged))
	}
	if ranged[0].Odometer != 1100 || ranged[1].Odometer != 1200 {
		t.Errorf("unexpected ranged entries: %v, %v", ranged[0].Odometer, ranged[1].Odometer)
	}
}

func TestList_StopsEarly(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := l.Append(ctx, "U1", Candidate{Timestamp: t0.Add(time.Duration(i) * time.Minute), Odometer: float64(i), FuelVolume: 1}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	n := 0
	for _, err := range l.List(ctx, "U1", Range{}) {
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("expected to stop after 3, got %d", n)
	}
}
