package chainevents

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"BloodBank-Chain/internal/bloodbank"
	xerrors "BloodBank-Chain/internal/errors"
)

func testEvent(kind bloodbank.EventKind, index uint) bloodbank.Event {
	return bloodbank.Event{
		Kind:        kind,
		Actor:       common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		BloodType:   "A+",
		Amount:      big.NewInt(450),
		TxHash:      common.BigToHash(big.NewInt(int64(index) + 1)),
		BlockNumber: 7,
		LogIndex:    index,
	}
}

func TestProcessorHandlesConcurrentEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := NewMemoryQueue(1024)
	invalidator := &countingInvalidator{}
	processor := NewProcessor(queue, WithWorkerCount(8), WithSummaryInvalidator(invalidator))

	done := make(chan error, 1)
	go func() { done <- processor.Start(ctx) }()

	total := 200
	for i := 0; i < total; i++ {
		kind := bloodbank.EventBloodDonated
		if i%2 == 1 {
			kind = bloodbank.EventDonorRegistered
		}
		if err := queue.Publish(ctx, NewEnvelope(testEvent(kind, uint(i)), time.Now())); err != nil {
			t.Fatalf("发布事件失败: %v", err)
		}
	}

	waitFor(t, "all events", func() bool { return processor.Stats().Snapshot().Total == uint64(total) })
	snap := processor.Stats().Snapshot()
	if snap.ByKind[string(bloodbank.EventBloodDonated)] != 100 || snap.ByKind[string(bloodbank.EventDonorRegistered)] != 100 {
		t.Fatalf("unexpected counters: %+v", snap.ByKind)
	}
	if got := invalidator.calls.Load(); got != 100 {
		t.Fatalf("expected 100 invalidations, got %d", got)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected exit: %v", err)
	}
}

func TestProcessorSkipsDuplicates(t *testing.T) {
	processor := NewProcessor(nil)
	ctx := context.Background()
	ev := testEvent(bloodbank.EventBloodRequested, 3)

	for i := 0; i < 3; i++ {
		if err := processor.handle(ctx, NewEnvelope(ev, time.Now())); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	removed := ev
	removed.Removed = true
	if err := processor.handle(ctx, NewEnvelope(removed, time.Now())); err != nil {
		t.Fatalf("handle: %v", err)
	}

	snap := processor.Stats().Snapshot()
	if snap.Total != 1 || snap.Duplicates != 2 || snap.Removed != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestStatsWindowForgetsOldKeys(t *testing.T) {
	stats := newStats(2)
	first := NewEnvelope(testEvent(bloodbank.EventBloodDonated, 1), time.Now())
	for i := 2; i <= 3; i++ {
		stats.record(NewEnvelope(testEvent(bloodbank.EventBloodDonated, uint(i)), time.Now()))
	}
	stats.record(first)
	if !stats.record(NewEnvelope(testEvent(bloodbank.EventBloodDonated, 2), time.Now())) {
		t.Fatalf("evicted key should be accepted again")
	}
	if stats.record(first) {
		t.Fatalf("recent key should be rejected")
	}
}

func TestProcessorRequiresConsumer(t *testing.T) {
	if err := NewProcessor(nil).Start(context.Background()); err == nil {
		t.Fatalf("expected error without consumer")
	}
}

func TestOpenQueue(t *testing.T) {
	q, err := Open(QueueOptions{})
	if err != nil {
		t.Fatalf("open memory queue: %v", err)
	}
	if _, ok := q.(*MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", q)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Publish(context.Background(), NewEnvelope(testEvent(bloodbank.EventBloodDonated, 0), time.Now())); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}

	for _, driver := range []string{"redis", "kafka"} {
		if _, err := Open(QueueOptions{Driver: driver}); err == nil {
			t.Fatalf("expected error for driver %s", driver)
		}
	}
}

func TestEnvelopeDecode(t *testing.T) {
	env := NewEnvelope(testEvent(bloodbank.EventBloodDonated, 4), time.Now())
	payload, err := encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != env.ID || got.Key() != env.Key() || got.Event.Amount.Cmp(env.Event.Amount) != 0 {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if _, err := decode([]byte(`{"event":{}}`)); err == nil {
		t.Fatalf("expected error for envelope without id")
	}
}

func TestShouldRedeliver(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("transient"), true},
		{"retryable code", xerrors.New(xerrors.CodeStorageFailure, ""), true},
		{"permanent code", xerrors.New(xerrors.CodeInvalidArgument, ""), false},
		{"wrapped permanent", fmt.Errorf("handle: %w", xerrors.New(CodeEventDecode, "")), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldRedeliver(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
