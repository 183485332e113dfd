package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/visionquest-ai/backend/internal/config"
	"github.com/visionquest-ai/backend/internal/events"
	"github.com/visionquest-ai/backend/internal/logger"
	"github.com/visionquest-ai/backend/internal/pipeline"
)

type fakeProc struct {
	errs      map[string]error
	processed []string
	abandoned []string
}

func (f *fakeProc) Process(_ context.Context, ref events.ObjectRef) error {
	f.processed = append(f.processed, ref.Key)
	return f.errs[ref.Key]
}

func (f *fakeProc) Abandon(_ context.Context, ref events.ObjectRef, _ error) {
	f.abandoned = append(f.abandoned, ref.Key)
}

type fakeKB struct {
	handled []string
	err     error
}

func (f *fakeKB) Handle(_ context.Context, ref events.ObjectRef) error {
	f.handled = append(f.handled, ref.Key)
	return f.err
}

type openGuard struct{}

func (openGuard) Claim(context.Context, string) (bool, error) { return true, nil }
func (openGuard) Release(context.Context, string)             {}

type fakePub struct {
	events   []events.StorageEvent
	attempts []int
	err      error
}

func (f *fakePub) PublishRetry(_ context.Context, ev events.StorageEvent, attempt int) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	f.attempts = append(f.attempts, attempt)
	return nil
}

type fakeAcker struct {
	acked  int
	nacked int
}

func (f *fakeAcker) Ack(uint64, bool) error        { f.acked++; return nil }
func (f *fakeAcker) Nack(uint64, bool, bool) error { f.nacked++; return nil }
func (f *fakeAcker) Reject(uint64, bool) error     { f.nacked++; return nil }

func newTestWorker(proc *fakeProc, pub *fakePub) *worker {
	return &worker{
		log:        logger.NewNop(),
		cfg:        config.Config{KnowledgeBucket: "kb"},
		proc:       proc,
		translator: &fakeKB{},
		guard:      openGuard{},
		pub:        pub,
	}
}

func delivery(t *testing.T, attempt int, refs ...events.ObjectRef) (amqp.Delivery, *fakeAcker) {
	t.Helper()
	ev := events.NewStorageEvent(refs[0].Bucket, refs[0].Key)
	for _, ref := range refs[1:] {
		extra := events.NewStorageEvent(ref.Bucket, ref.Key)
		ev.Records = append(ev.Records, extra.Records...)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	var headers amqp.Table
	if attempt > 0 {
		headers = amqp.Table{events.RetryCountHeader: int32(attempt)}
	}
	acker := &fakeAcker{}
	return amqp.Delivery{Acknowledger: acker, Body: body, Headers: headers}, acker
}

func TestHandleSuccessAcks(t *testing.T) {
	proc := &fakeProc{}
	pub := &fakePub{}
	w := newTestWorker(proc, pub)

	d, acker := delivery(t, 0, events.ObjectRef{Bucket: "uploads", Key: "u/c/job-1-a/q.json"})
	w.handle(context.Background(), 0, d)

	if acker.acked != 1 || acker.nacked != 0 {
		t.Fatalf("acked=%d nacked=%d", acker.acked, acker.nacked)
	}
	if len(pub.events) != 0 || len(proc.abandoned) != 0 {
		t.Fatal("clean run must not republish or abandon")
	}
}

func TestHandleTransientRepublishesWithAttempt(t *testing.T) {
	key := "u/c/job-1-a/q.json"
	proc := &fakeProc{errs: map[string]error{
		key: &pipeline.TransientError{Err: errors.New("ocr unavailable")},
	}}
	pub := &fakePub{}
	w := newTestWorker(proc, pub)

	d, acker := delivery(t, 0, events.ObjectRef{Bucket: "uploads", Key: key})
	w.handle(context.Background(), 0, d)

	if len(pub.attempts) != 1 || pub.attempts[0] != 1 {
		t.Fatalf("attempts = %v, want [1]", pub.attempts)
	}
	if acker.acked != 1 {
		t.Fatalf("republished delivery must be acked, acked=%d", acker.acked)
	}
	if len(proc.abandoned) != 0 {
		t.Fatal("transient failure within budget must not abandon")
	}

	// the counter moves forward on each round
	d2, _ := delivery(t, 1, events.ObjectRef{Bucket: "uploads", Key: key})
	w.handle(context.Background(), 0, d2)
	if len(pub.attempts) != 2 || pub.attempts[1] != 2 {
		t.Fatalf("attempts = %v, want [1 2]", pub.attempts)
	}
}

func TestHandleExhaustedBudgetAbandons(t *testing.T) {
	key := "u/c/job-2-b/q.json"
	proc := &fakeProc{errs: map[string]error{
		key: &pipeline.TransientError{Err: errors.New("still down")},
	}}
	pub := &fakePub{}
	w := newTestWorker(proc, pub)

	d, acker := delivery(t, maxRetries, events.ObjectRef{Bucket: "uploads", Key: key})
	w.handle(context.Background(), 0, d)

	if len(pub.events) != 0 {
		t.Fatal("spent budget must not republish")
	}
	if len(proc.abandoned) != 1 || proc.abandoned[0] != key {
		t.Fatalf("abandoned = %v", proc.abandoned)
	}
	if acker.nacked != 1 {
		t.Fatalf("exhausted delivery must be dead-lettered, nacked=%d", acker.nacked)
	}
}

func TestHandleClientErrorAbandonsImmediately(t *testing.T) {
	key := "u/c/job-3-c/q.json"
	proc := &fakeProc{errs: map[string]error{
		key: &pipeline.ClientError{Err: errors.New("no such job")},
	}}
	pub := &fakePub{}
	w := newTestWorker(proc, pub)

	d, acker := delivery(t, 0, events.ObjectRef{Bucket: "uploads", Key: key})
	w.handle(context.Background(), 0, d)

	if len(pub.events) != 0 {
		t.Fatal("client errors must never be retried")
	}
	if len(proc.abandoned) != 1 || proc.abandoned[0] != key {
		t.Fatalf("abandoned = %v", proc.abandoned)
	}
	if acker.nacked != 1 {
		t.Fatalf("nacked=%d", acker.nacked)
	}
}

func TestHandleMixedBatchSplitsRouting(t *testing.T) {
	transientKey := "u/c/job-4-d/report.pdf"
	clientKey := "u/c/job-5-e/q.json"
	proc := &fakeProc{errs: map[string]error{
		transientKey: &pipeline.TransientError{Err: errors.New("docai unavailable")},
		clientKey:    &pipeline.ClientError{Err: errors.New("bad payload")},
	}}
	pub := &fakePub{}
	w := newTestWorker(proc, pub)

	d, acker := delivery(t, 0,
		events.ObjectRef{Bucket: "uploads", Key: transientKey},
		events.ObjectRef{Bucket: "uploads", Key: clientKey})
	w.handle(context.Background(), 0, d)

	if len(proc.abandoned) != 1 || proc.abandoned[0] != clientKey {
		t.Fatalf("abandoned = %v, want only the client-error ref", proc.abandoned)
	}
	if len(pub.events) != 1 {
		t.Fatalf("republished %d events", len(pub.events))
	}
	refs, _, err := events.Decode(mustBody(t, pub.events[0]))
	if err != nil {
		t.Fatalf("decode republished: %v", err)
	}
	if len(refs) != 1 || refs[0].Key != transientKey {
		t.Fatalf("republished refs = %v, want only the transient ref", refs)
	}
	if acker.acked != 1 {
		t.Fatalf("acked=%d", acker.acked)
	}
}

func TestHandleRoutesKnowledgeBucketToETL(t *testing.T) {
	proc := &fakeProc{}
	pub := &fakePub{}
	w := newTestWorker(proc, pub)
	kb := &fakeKB{}
	w.translator = kb

	d, acker := delivery(t, 0, events.ObjectRef{Bucket: "kb", Key: "raw/guide.txt"})
	w.handle(context.Background(), 0, d)

	if len(kb.handled) != 1 || kb.handled[0] != "raw/guide.txt" {
		t.Fatalf("etl handled = %v", kb.handled)
	}
	if len(proc.processed) != 0 {
		t.Fatal("knowledge objects must not enter the job pipeline")
	}
	if acker.acked != 1 {
		t.Fatalf("acked=%d", acker.acked)
	}
}

func mustBody(t *testing.T, ev events.StorageEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
