package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestWriter_EnqueueEncodesPayload(t *testing.T) {
	repo := &fakeRepo{}
	w := NewWriter(repo).
		WithClock(func() time.Time { return fixedNow }).
		WithIDGenerator(func() string { return "msg-1" })

	err := w.Enqueue(context.Background(), nil, "job.created", map[string]any{"job_id": 0, "budget": 500})
	require.NoError(t, err)
	require.Len(t, repo.inserted, 1)

	msg := repo.inserted[0]
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, StatusPending, msg.Status)
	assert.Equal(t, fixedNow, msg.CreatedAt)
	assert.JSONEq(t, `{"job_id":0,"budget":500}`, string(msg.Payload))

	assert.Error(t, w.Enqueue(context.Background(), nil, "", nil))
}

func TestRelay_FlushPublishesToRedis(t *testing.T) {
	client, mock := redismock.NewClientMock()
	publisher := NewRedisPublisher(client, "escrowflow")

	msgs := []Message{
		{ID: "m1", Topic: "job.created", Payload: json.RawMessage(`{"job_id":0}`), CreatedAt: fixedNow},
		{ID: "m2", Topic: "proposal.accepted", Payload: json.RawMessage(`{"proposal_id":1}`), CreatedAt: fixedNow, Attempts: 4},
	}
	mock.ExpectRPush("escrowflow:job.created", mustEnvelope(t, msgs[0])).SetVal(1)
	mock.ExpectRPush("escrowflow:proposal.accepted", mustEnvelope(t, msgs[1])).SetErr(errors.New("redis down"))

	repo := &fakeRepo{pending: msgs}
	pool := &fakePool{}
	logger, hook := test.NewNullLogger()
	relay := NewRelay(pool, repo, publisher, logger, RelayConfig{BatchSize: 10, MaxAttempts: 5}).
		WithClock(func() time.Time { return fixedNow })

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"m1"}, repo.processed)
	assert.Equal(t, map[string]bool{"m2": true}, repo.failed)
	assert.True(t, pool.tx.committed)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "m2", hook.LastEntry().Data["message_id"])
}

func TestRelay_FlushBeginError(t *testing.T) {
	relay := NewRelay(&fakePool{err: errors.New("no conn")}, &fakeRepo{}, nil, nil, RelayConfig{})
	_, err := relay.Flush(context.Background())
	assert.Error(t, err)
}

func mustEnvelope(t *testing.T, m Message) []byte {
	t.Helper()
	data, err := json.Marshal(envelope{ID: m.ID, Topic: m.Topic, Payload: m.Payload, At: m.CreatedAt.Unix()})
	require.NoError(t, err)
	return data
}

type fakeRepo struct {
	inserted  []Message
	pending   []Message
	processed []string
	failed    map[string]bool
}

func (f *fakeRepo) Insert(ctx context.Context, tx pgx.Tx, msg Message) error {
	f.inserted = append(f.inserted, msg)
	return nil
}

func (f *fakeRepo) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id string, dead bool, at time.Time) error {
	if f.failed == nil {
		f.failed = map[string]bool{}
	}
	f.failed[id] = dead
	return nil
}

type fakePool struct {
	tx  *fakeTx
	err error
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tx = &fakeTx{}
	return f.tx, nil
}

// fakeTx implements only the lifecycle methods; anything else panics.
type fakeTx struct {
	pgx.Tx
	committed bool
	rolled    bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}
