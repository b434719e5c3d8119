package dispatcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/clock"
	"github.com/MikeSquared-Agency/tenere/internal/conversation"
	"github.com/MikeSquared-Agency/tenere/internal/ledger"
	"github.com/MikeSquared-Agency/tenere/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	d       *Dispatcher
	reg     *session.Registry
	ledger  *ledger.Ledger
	backend *ledger.MemoryBackend
	clock   *clock.FakeClock

	mu      sync.Mutex
	emitted []Instruction
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, ledger.NewMemoryBackend(), nil)
}

func newHarnessWith(t *testing.T, mem *ledger.MemoryBackend, backend ledger.Backend) *harness {
	t.Helper()
	if backend == nil {
		backend = mem
	}
	clk := clock.Fake(t0)
	l := ledger.New(backend, ledger.Options{Timeout: 50 * time.Millisecond}, discardLogger())
	reg := session.NewRegistry(10*time.Minute, clk, discardLogger())
	h := &harness{
		reg:     reg,
		ledger:  l,
		backend: mem,
		clock:   clk,
	}
	h.d = New(reg, conversation.NewMachine(l, discardLogger()), l, discardLogger())
	h.d.OnEmit(func(_ context.Context, in Instruction) {
		h.mu.Lock()
		h.emitted = append(h.emitted, in)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) send(t *testing.T, owner string, ts time.Time, texts ...string) Instruction {
	t.Helper()
	var last Instruction
	for _, text := range texts {
		in, err := h.d.Handle(context.Background(), Event{OwnerID: owner, ChatID: "chat-" + owner, Timestamp: ts, Text: text})
		if err != nil {
			t.Fatalf("Handle(%q): %v", text, err)
		}
		last = in
	}
	return last
}

func TestHandle_Scenario(t *testing.T) {
	h := newHarness(t)
	ts := t0

	prompts := []struct {
		text string
		kind Kind
	}{
		{"1000", KindAskFuelVolume},
		{"40", KindAskFuelCost},
		{"skip", KindAskFullTank},
		{"yes", KindAskConfirm},
	}
	for _, p := range prompts {
		in := h.send(t, "U1", ts, p.text)
		if in.Kind != p.kind {
			t.Fatalf("after %q expected %s, got %s", p.text, p.kind, in.Kind)
		}
	}

	in := h.send(t, "U1", ts, "yes")
	if in.Kind != KindCommitted || in.Entry == nil {
		t.Fatalf("expected COMMITTED with entry, got %+v", in)
	}
	if !in.Entry.FullTank || in.Entry.FuelCost != nil || in.Entry.Odometer != 1000 || in.Entry.FuelVolume != 40 {
		t.Errorf("unexpected committed entry: %+v", in.Entry)
	}
	if !in.Entry.Timestamp.Equal(ts) {
		t.Errorf("expected event timestamp on entry, got %v", in.Entry.Timestamp)
	}
	if in.TargetOwnerID != "U1" || in.ChatID != "chat-U1" {
		t.Errorf("unexpected target: %q %q", in.TargetOwnerID, in.ChatID)
	}
	if h.reg.Active() != 0 {
		t.Error("expected conversation removed after commit")
	}
	first := *in.Entry

	// Same sequence with a lower odometer fails at commit.
	in = h.send(t, "U1", ts.Add(time.Hour), "900", "40", "skip", "yes", "yes")
	if in.Kind != KindRejected {
		t.Fatalf("expected REJECTED, got %s", in.Kind)
	}
	if in.Reason == "" {
		t.Error("expected a rejection reason")
	}

	entries, err := h.ledger.Entries(context.Background(), "U1", ledger.Range{})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != first.ID || entries[0].Odometer != 1000 {
		t.Errorf("prior entry must be unchanged, got %+v", entries)
	}

	// The conversation restarted at the odometer with no data.
	in = h.send(t, "U1", ts.Add(2*time.Hour), "abc")
	if in.Kind != KindAskOdometer || !in.Clarify {
		t.Errorf("expected odometer clarification, got %+v", in)
	}
}

func TestHandle_CommitKeepsEventTimestamp(t *testing.T) {
	h := newHarness(t)
	ts := time.Date(2024, 3, 1, 14, 30, 0, 123456789, time.FixedZone("EET", 2*60*60))

	in := h.send(t, "U1", ts, "1000km 40L 60€", "yes", "yes")
	if in.Kind != KindCommitted || in.Entry == nil {
		t.Fatalf("expected COMMITTED, got %+v", in)
	}
	want := ts.UTC().Truncate(ledger.TimestampPrecision)
	if !in.Entry.Timestamp.Equal(want) || in.Entry.Timestamp.Location() != time.UTC {
		t.Errorf("entry timestamp = %v, want %v", in.Entry.Timestamp, want)
	}

	latest, ok, err := h.ledger.Latest(context.Background(), "U1")
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if !latest.Timestamp.Equal(in.Entry.Timestamp) {
		t.Errorf("stored timestamp %v differs from reply %v", latest.Timestamp, in.Entry.Timestamp)
	}
}

func TestHandle_ConfirmShowsDraft(t *testing.T) {
	h := newHarness(t)
	in := h.send(t, "U1", t0, "1000km 40L 60€", "no")
	if in.Kind != KindAskConfirm || in.Draft == nil {
		t.Fatalf("expected confirmation with draft, got %+v", in)
	}
	if *in.Draft.FuelCost != 60 || *in.Draft.FullTank {
		t.Errorf("unexpected draft: %+v", in.Draft)
	}
}

func TestHandle_IdleTimeoutStartsFresh(t *testing.T) {
	h := newHarness(t)
	h.send(t, "U1", t0, "1000", "40")

	h.clock.Advance(11 * time.Minute)

	in := h.send(t, "U1", t0, "/economy")
	if !in.Expired {
		t.Error("expected the stale conversation to be reported as expired")
	}
	if in.Kind != KindEconomy || in.Economy == nil || in.Economy.Sufficient {
		t.Errorf("expected insufficient economy result, got %+v", in)
	}
	if h.reg.Active() != 1 {
		t.Errorf("expected the query to start a fresh conversation, got %d active", h.reg.Active())
	}

	in = h.send(t, "U1", t0, "1200")
	if in.Kind != KindAskFuelVolume {
		t.Errorf("expected a fresh conversation to take the odometer, got %s", in.Kind)
	}
	if in.Expired {
		t.Error("expiry is reported once")
	}
}

func TestHandle_ExpiredThenText(t *testing.T) {
	h := newHarness(t)
	h.send(t, "U1", t0, "1000", "40", "60")

	h.clock.Advance(time.Hour)

	// "yes" would have answered the full-tank question; now it is the
	// first input of a new conversation and is not an odometer reading.
	in := h.send(t, "U1", t0, "yes")
	if !in.Expired || in.Kind != KindAskOdometer || !in.Clarify {
		t.Errorf("expected expired + odometer clarification, got %+v", in)
	}
}

func TestHandle_Cancel(t *testing.T) {
	h := newHarness(t)
	h.send(t, "U1", t0, "1000")

	in := h.send(t, "U1", t0, "/cancel")
	if in.Kind != KindCancelled {
		t.Fatalf("expected CANCELLED, got %s", in.Kind)
	}
	if h.reg.Active() != 0 {
		t.Error("expected cancelled conversation to be removed")
	}

	in = h.send(t, "U1", t0, "/cancel")
	if in.Kind != KindCancelled || in.Reason == "" {
		t.Errorf("expected cancel without conversation to explain itself, got %+v", in)
	}
}

func TestHandle_Commands(t *testing.T) {
	h := newHarness(t)

	if in := h.send(t, "U1", t0, "/start"); in.Kind != KindHelp || in.Clarify {
		t.Errorf("expected HELP, got %+v", in)
	}
	if in := h.send(t, "U1", t0, "/frobnicate"); in.Kind != KindHelp || !in.Clarify {
		t.Errorf("expected HELP clarification, got %+v", in)
	}
	if in := h.send(t, "U1", t0, "/fill@tenere_bot"); in.Kind != KindAskOdometer {
		t.Errorf("expected ASK_ODOMETER, got %s", in.Kind)
	}
	if h.reg.Active() != 1 {
		t.Error("expected /fill to start a conversation")
	}
}

func TestHandle_EconomyAndHistory(t *testing.T) {
	h := newHarness(t)
	h.send(t, "U1", t0, "1000", "35", "50", "yes", "yes")
	h.send(t, "U1", t0.Add(24*time.Hour), "1400km 40l 60€", "yes", "yes")

	in := h.send(t, "U1", t0.Add(48*time.Hour), "/economy")
	if in.Kind != KindEconomy || in.Economy == nil {
		t.Fatalf("expected ECONOMY_RESULT, got %+v", in)
	}
	if !in.Economy.Sufficient || in.Economy.DistancePerVolume != 10.0 {
		t.Errorf("expected 10.0, got %+v", in.Economy)
	}

	in = h.send(t, "U1", t0.Add(48*time.Hour), "/history 1")
	if in.Kind != KindHistory || len(in.History) != 1 || in.History[0].Odometer != 1400 {
		t.Errorf("expected newest entry only, got %+v", in.History)
	}

	in = h.send(t, "U1", t0.Add(48*time.Hour), "/history")
	if len(in.History) != 2 || in.History[0].Odometer != 1000 {
		t.Errorf("expected both entries oldest first, got %+v", in.History)
	}

	in = h.send(t, "U1", t0.Add(48*time.Hour), "/economy soon")
	if in.Kind != KindHelp || !in.Clarify {
		t.Errorf("expected clarification for a bad window, got %+v", in)
	}
}

type slowBackend struct {
	*ledger.MemoryBackend
	mu   sync.Mutex
	slow bool
}

func (s *slowBackend) AppendEntry(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	slow := s.slow
	s.mu.Unlock()
	if slow {
		<-ctx.Done()
		return ledger.Entry{}, ctx.Err()
	}
	return s.MemoryBackend.AppendEntry(ctx, e)
}

func TestHandle_TimeoutKeepsDraftForRetry(t *testing.T) {
	mem := ledger.NewMemoryBackend()
	backend := &slowBackend{MemoryBackend: mem, slow: true}
	h := newHarnessWith(t, mem, backend)

	in := h.send(t, "U1", t0, "1000", "40", "60", "yes", "yes")
	if in.Kind != KindFailed || !in.Retryable {
		t.Fatalf("expected retryable FAILED, got %+v", in)
	}
	if in.Draft == nil || *in.Draft.Odometer != 1000 {
		t.Errorf("expected draft to be kept, got %+v", in.Draft)
	}

	backend.mu.Lock()
	backend.slow = false
	backend.mu.Unlock()

	in = h.send(t, "U1", t0, "yes")
	if in.Kind != KindCommitted {
		t.Fatalf("expected retry to commit, got %+v", in)
	}
	if mem.Len("U1") != 1 {
		t.Errorf("expected exactly one entry, got %d", mem.Len("U1"))
	}
}

func TestHandle_ManyOwnersInParallel(t *testing.T) {
	h := newHarness(t)

	const owners = 50
	var wg sync.WaitGroup
	for i := 0; i < owners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := fmt.Sprintf("U%d", i)
			odo := fmt.Sprintf("%d", 1000+i)
			for _, text := range []string{odo, "40", "skip", "yes", "yes"} {
				if _, err := h.d.Handle(context.Background(), Event{OwnerID: owner, Timestamp: t0, Text: text}); err != nil {
					t.Errorf("%s: %v", owner, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < owners; i++ {
		owner := fmt.Sprintf("U%d", i)
		entries, err := h.ledger.Entries(context.Background(), owner, ledger.Range{})
		if err != nil {
			t.Fatalf("Entries: %v", err)
		}
		if len(entries) != 1 || entries[0].Odometer != float64(1000+i) {
			t.Errorf("%s: expected own single entry, got %+v", owner, entries)
		}
	}
}

func TestHandle_SameOwnerArrivalOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Hold the owner's session so every event queues up behind it.
	held, err := h.reg.Acquire(ctx, "U1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	texts := []string{"1000", "40", "60", "no", "yes"}
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			if _, err := h.d.Handle(ctx, Event{ID: fmt.Sprint(i), OwnerID: "U1", Timestamp: t0, Text: text}); err != nil {
				t.Errorf("Handle: %v", err)
			}
		}(i, text)

		deadline := time.Now().Add(2 * time.Second)
		for h.reg.Queued("U1") != i+2 {
			if time.Now().After(deadline) {
				t.Fatal("event did not queue")
			}
			time.Sleep(time.Millisecond)
		}
	}
	held.Release()
	wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.emitted) != len(texts) {
		t.Fatalf("expected %d instructions, got %d", len(texts), len(h.emitted))
	}
	for i, in := range h.emitted {
		if in.EventID != fmt.Sprint(i) {
			t.Fatalf("instructions out of order at %d: %s", i, in.EventID)
		}
	}
	last := h.emitted[len(h.emitted)-1]
	if last.Kind != KindCommitted || last.Entry.FuelCost == nil || *last.Entry.FuelCost != 60 || last.Entry.FullTank {
		t.Errorf("expected uncorrupted commit, got %+v", last)
	}
}

func TestHandle_NoOwner(t *testing.T) {
	h := newHarness(t)
	if _, err := h.d.Handle(context.Background(), Event{Text: "1000"}); err != ErrNoOwner {
		t.Errorf("expected ErrNoOwner, got %v", err)
	}
}
