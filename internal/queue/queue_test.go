package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamic-table/internal/database/dbtest"
	apperrors "dynamic-table/internal/errors"
	"dynamic-table/internal/ingest"
	"dynamic-table/internal/model"
	"dynamic-table/internal/repository"
	"dynamic-table/internal/schema"
)

type fakeNotifier struct {
	mu       sync.Mutex
	status   map[string]model.NotificationStatus
	creates  int
	flips    int
	messages []string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{status: make(map[string]model.NotificationStatus)}
}

func (f *fakeNotifier) Create(ctx context.Context, message, table, key string) (*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.messages = append(f.messages, message)
	f.status[key] = model.NotificationPending
	return &model.Notification{Message: message, Table: table, NotificationKey: key, Status: model.NotificationPending}, nil
}

func (f *fakeNotifier) MarkCreatedByKey(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status[key] != model.NotificationPending {
		return 0, nil
	}
	f.status[key] = model.NotificationCreated
	f.flips++
	return 1, nil
}

func (f *fakeNotifier) MarkFailedByKey(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.status[key]; !ok || s == model.NotificationFailed {
		return 0, nil
	}
	f.status[key] = model.NotificationFailed
	return 1, nil
}

func (f *fakeNotifier) MarkRecoveredByKey(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.status[key]; s != model.NotificationPending && s != model.NotificationFailed {
		return 0, nil
	}
	f.status[key] = model.NotificationCreated
	f.flips++
	return 1, nil
}

func (f *fakeNotifier) statusOf(key string) model.NotificationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[key]
}

type stubIngester struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubIngester) Ingest(ctx context.Context, batch *model.Batch) (*ingest.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &ingest.Result{Table: batch.CsvName}, s.err
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

var fixedNow = time.UnixMilli(1700000000000)

func peopleUpload(n int) *model.Upload {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{strconv.Itoa(i + 1), "name" + strconv.Itoa(i+1)}
	}
	return &model.Upload{
		CsvName: "people",
		Fields: model.FieldMap{
			{Name: "id", Definition: model.FieldDefinition{Type: model.ColumnInteger, IsPrimary: true}},
			{Name: "name", Definition: model.FieldDefinition{Type: model.ColumnText}},
		},
		Rows: rows,
	}
}

type pipeline struct {
	broker     *MemoryBroker
	notifier   *fakeNotifier
	db         *dbtest.Store
	dispatcher *Dispatcher
	consumer   *Consumer
	deliveries <-chan Delivery
	waits      []time.Duration
}

func newPipeline(t *testing.T, ingester Ingester) *pipeline {
	t.Helper()
	p := &pipeline{
		broker:   NewMemoryBroker(),
		notifier: newFakeNotifier(),
		db:       dbtest.NewStore(),
	}
	log := quietLog()
	if ingester == nil {
		schemas := repository.NewSchemaRepository(dbtest.OpenMetadata(t))
		reconciler := schema.NewReconciler(schemas, p.db, dbtest.NewLocker(), log)
		ingester = ingest.NewCoordinator(reconciler, p.db, ingest.Config{}, log).
			WithSleep(func(context.Context, time.Duration) error { return nil })
	}
	p.dispatcher = NewDispatcher(p.broker, p.notifier, DispatcherConfig{}, log).
		WithClock(func() time.Time { return fixedNow })
	p.consumer = NewConsumer(p.broker, ingester, p.notifier, ConsumerConfig{MaxDeliveries: 3}, log).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			p.waits = append(p.waits, d)
			return nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	deliveries, err := p.broker.Consume(ctx)
	require.NoError(t, err)
	p.deliveries = deliveries
	return p
}

func (p *pipeline) next(t *testing.T) Delivery {
	t.Helper()
	select {
	case d := <-p.deliveries:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
		return nil
	}
}

func decode(t *testing.T, d Delivery) model.Batch {
	t.Helper()
	var b model.Batch
	require.NoError(t, json.Unmarshal(d.Body(), &b))
	return b
}

func TestSplit(t *testing.T) {
	batches := Split(peopleUpload(120), 50, "k")
	require.Len(t, batches, 3)
	for i, want := range []int{50, 50, 20} {
		assert.Len(t, batches[i].Rows, want)
		assert.Equal(t, i+1, batches[i].BatchNumber)
		assert.Equal(t, 3, batches[i].TotalBatches)
		assert.Equal(t, i == 0, batches[i].IsFirstBatch)
		assert.Equal(t, "k", batches[i].NotificationKey)
	}
	assert.Equal(t, "101", batches[2].Rows[0][0])

	empty := Split(peopleUpload(0), 50, "k")
	require.Len(t, empty, 1)
	assert.True(t, empty[0].IsFirstBatch)
	assert.Empty(t, empty[0].Rows)
}

func TestDispatchAndConsumeFlipsNotificationOnce(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	res, err := p.dispatcher.Dispatch(ctx, peopleUpload(120))
	require.NoError(t, err)
	assert.Equal(t, "people-1700000000000", res.NotificationKey)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 1, p.notifier.creates)
	assert.Equal(t, []string{"Uploading 'people' to server"}, p.notifier.messages)
	assert.Equal(t, model.NotificationPending, p.notifier.statusOf(res.NotificationKey))

	for i := 1; i <= 3; i++ {
		d := p.next(t)
		assert.Equal(t, i, decode(t, d).BatchNumber)
		assert.Equal(t, OutcomeAcked, p.consumer.Handle(ctx, d))
	}

	assert.Equal(t, 120, p.db.RowCount("people"))
	assert.Equal(t, model.NotificationCreated, p.notifier.statusOf(res.NotificationKey))
	assert.Equal(t, 1, p.notifier.flips)
	assert.Zero(t, p.broker.Pending())
}

func TestRedeliveredBatchIsIdempotent(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()
	_, err := p.dispatcher.Dispatch(ctx, peopleUpload(120))
	require.NoError(t, err)

	require.Equal(t, OutcomeAcked, p.consumer.Handle(ctx, p.next(t)))

	second := p.next(t)
	require.Equal(t, OutcomeAcked, p.consumer.Handle(ctx, second))
	// The broker delivers batch 2 again, as after a lost ack.
	require.NoError(t, p.broker.Publish(ctx, Message{ID: second.MessageID(), Body: second.Body()}))

	require.Equal(t, OutcomeAcked, p.consumer.Handle(ctx, p.next(t)))
	dup := p.next(t)
	assert.Equal(t, 2, decode(t, dup).BatchNumber)
	require.Equal(t, OutcomeAcked, p.consumer.Handle(ctx, dup))

	assert.Equal(t, 120, p.db.RowCount("people"))
	assert.Equal(t, 1, p.notifier.flips)
}

func TestPoisonMessageIsRejected(t *testing.T) {
	p := newPipeline(t, &stubIngester{})
	ctx := context.Background()
	require.NoError(t, p.broker.Publish(ctx, Message{ID: "poison", Body: []byte("{not json")}))

	assert.Equal(t, OutcomeRejected, p.consumer.Handle(ctx, p.next(t)))
	require.Len(t, p.broker.Dead(), 1)
	assert.Equal(t, "poison", p.broker.Dead()[0].ID)
	assert.Zero(t, p.broker.Pending())
}

func TestFailingBatchIsDeadLetteredAndReplayable(t *testing.T) {
	ing := &stubIngester{err: apperrors.New(apperrors.CategoryFatalStore, apperrors.CodeExecutionFailed, "boom")}
	p := newPipeline(t, ing)
	ctx := context.Background()
	res, err := p.dispatcher.Dispatch(ctx, peopleUpload(10))
	require.NoError(t, err)

	var outcomes []Outcome
	for i := 0; i < 3; i++ {
		d := p.next(t)
		assert.Equal(t, i > 0, d.Redelivered())
		outcomes = append(outcomes, p.consumer.Handle(ctx, d))
	}
	assert.Equal(t, []Outcome{OutcomeRequeued, OutcomeRequeued, OutcomeRejected}, outcomes)
	assert.Equal(t, 3, ing.calls)
	assert.Equal(t, []time.Duration{DefaultRequeueDelay, 2 * DefaultRequeueDelay}, p.waits)
	assert.Equal(t, model.NotificationFailed, p.notifier.statusOf(res.NotificationKey))

	// The batch is parked, not lost.
	dead := p.broker.Dead()
	require.Len(t, dead, 1)
	assert.Zero(t, p.broker.Pending())
	assert.Equal(t, res.NotificationKey, dead[0].Headers[HeaderNotificationKey])

	// The store recovers and an operator replays the parked batch.
	ing.err = nil
	n, err := p.broker.ReplayDead(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, p.broker.Dead())

	d := p.next(t)
	assert.Equal(t, dead[0].ID, d.MessageID())
	assert.Equal(t, true, d.Headers()[HeaderReplayed])
	count, _ := d.DeliveryCount()
	assert.Zero(t, count)
	assert.Equal(t, OutcomeAcked, p.consumer.Handle(ctx, d))
	assert.Equal(t, 4, ing.calls)
	assert.Equal(t, model.NotificationCreated, p.notifier.statusOf(res.NotificationKey))
}

func TestReplayDeadHonoursLimit(t *testing.T) {
	p := newPipeline(t, &stubIngester{})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.broker.Publish(ctx, Message{ID: id, Body: []byte("{not json")}))
		require.Equal(t, OutcomeRejected, p.consumer.Handle(ctx, p.next(t)))
	}
	require.Len(t, p.broker.Dead(), 3)

	n, err := p.broker.ReplayDead(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, p.broker.Dead(), 1)
	assert.Equal(t, "c", p.broker.Dead()[0].ID)

	for _, id := range []string{"a", "b"} {
		d := p.next(t)
		assert.Equal(t, id, d.MessageID())
		require.NoError(t, d.Ack())
	}
	assert.Zero(t, p.broker.Pending())
}

func TestRequeueDelayGrowsUpToCap(t *testing.T) {
	c := NewConsumer(NewMemoryBroker(), &stubIngester{}, newFakeNotifier(),
		ConsumerConfig{RequeueDelay: time.Second, MaxRequeueDelay: 3 * time.Second}, quietLog())

	assert.Equal(t, time.Second, c.requeueDelay(1))
	assert.Equal(t, 2*time.Second, c.requeueDelay(2))
	assert.Equal(t, 3*time.Second, c.requeueDelay(3))
	assert.Equal(t, 3*time.Second, c.requeueDelay(40))
}

func TestSchemaConflictRejectsWithoutRetry(t *testing.T) {
	ing := &stubIngester{err: apperrors.Wrap(apperrors.CategoryConflict, apperrors.CodeSchemaConflict, "conflict", errors.New("42P07"))}
	p := newPipeline(t, ing)
	ctx := context.Background()
	res, err := p.dispatcher.Dispatch(ctx, peopleUpload(10))
	require.NoError(t, err)

	assert.Equal(t, OutcomeRejected, p.consumer.Handle(ctx, p.next(t)))
	assert.Equal(t, 1, ing.calls)
	assert.Equal(t, model.NotificationFailed, p.notifier.statusOf(res.NotificationKey))
}

func TestDispatchPublishFailureMarksNotificationFailed(t *testing.T) {
	p := newPipeline(t, &stubIngester{})
	p.broker.PublishHook = func(call int, msg Message) error {
		if call == 2 {
			return errors.New("connection reset")
		}
		return nil
	}

	_, err := p.dispatcher.Dispatch(context.Background(), peopleUpload(120))
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryTransport, apperrors.GetCategory(err))
	assert.Equal(t, model.NotificationFailed, p.notifier.statusOf("people-1700000000000"))
}

func TestDispatchValidatesBeforePublishing(t *testing.T) {
	p := newPipeline(t, &stubIngester{})
	upload := peopleUpload(3)
	upload.Fields[0].Definition.IsPrimary = false

	_, err := p.dispatcher.Dispatch(context.Background(), upload)
	assert.ErrorIs(t, err, apperrors.ErrNoPrimaryKey)
	assert.Zero(t, p.notifier.creates)
	assert.Zero(t, p.broker.Pending())
}

func TestConsumerRunStopsOnCancelAndOnClose(t *testing.T) {
	broker := NewMemoryBroker()
	c := NewConsumer(broker, &stubIngester{}, newFakeNotifier(), ConsumerConfig{}, quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	broker2 := NewMemoryBroker()
	c2 := NewConsumer(broker2, &stubIngester{}, newFakeNotifier(), ConsumerConfig{}, quietLog())
	go func() { done <- c2.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, broker2.Close())
	select {
	case err := <-done:
		assert.Equal(t, apperrors.CodeChannelClosed, apperrors.GetCode(err))
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not notice close")
	}
}

func TestDeliveryTracker(t *testing.T) {
	now := time.Unix(0, 0)
	tr := newDeliveryTracker(time.Minute)
	tr.now = func() time.Time { return now }

	assert.Equal(t, 1, tr.Seen("a"))
	assert.Equal(t, 2, tr.Seen("a"))
	assert.Equal(t, 1, tr.Seen("b"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, tr.Seen("a"), "expired entries restart")

	tr.Sweep()
	assert.Equal(t, 1, tr.Len())
	tr.Forget("a")
	assert.Zero(t, tr.Len())
}

func TestReplayHeadersDropBrokerBookkeeping(t *testing.T) {
	in := map[string]interface{}{
		HeaderNotificationKey: "people-1",
		HeaderDeliveryCount:   int64(4),
		"x-death":             []interface{}{map[string]interface{}{"reason": "rejected"}},
		"x-first-death-queue": "table-queue",
	}
	out := replayHeaders(in)

	assert.Equal(t, map[string]interface{}{HeaderNotificationKey: "people-1", HeaderReplayed: true}, out)
	assert.Contains(t, in, "x-death")
	assert.Equal(t, "table-queue.dlx", DeadLetterExchange("table-queue"))
	assert.Equal(t, "table-queue.dead", DeadLetterQueue("table-queue"))
}
