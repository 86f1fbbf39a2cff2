package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestPublishConsumeFIFO(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)

	var ids []string
	for _, q := range []string{"first", "second", "third"} {
		id, err := tr.Publish(ctx, TaskStatusUpdate, StatusReportPayload{
			ApplicationID: 7,
			Status:        ReportApplied,
			Notes:         &q,
		}, 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for i, want := range []string{"first", "second", "third"} {
		task, err := tr.Consume(ctx, TaskStatusUpdate, 0)
		require.NoError(t, err)
		require.NotNil(t, task, "task %d", i)
		assert.Equal(t, ids[i], task.ID)

		decoded, err := task.Decode()
		require.NoError(t, err)
		report := decoded.(StatusReportPayload)
		assert.Equal(t, want, *report.Notes)
	}

	task, err := tr.Consume(ctx, TaskStatusUpdate, 0)
	require.NoError(t, err)
	assert.Nil(t, task, "drained queue must yield nil")
}

func TestTaskIDShape(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)

	id, err := tr.Publish(ctx, TaskApprovalRequest, ApprovalRequestPayload{
		ApplicationID: 3,
		Question:      "salary expectations?",
	}, 0)
	require.NoError(t, err)

	parts := strings.Split(id, "_")
	require.GreaterOrEqual(t, len(parts), 3)
	assert.True(t, strings.HasPrefix(id, TaskApprovalRequest+"_"))
	assert.Len(t, parts[len(parts)-1], 8, "random suffix")
}

func TestBlockingConsumeReturnsQueuedTask(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)

	_, err := tr.Publish(ctx, TaskSubmitApplication, SubmitApplicationPayload{
		ApplicationID: 11,
		PostingURL:    "https://acme.example/jobs/1",
		Company:       "Acme",
		Title:         "Backend Engineer",
	}, 1)
	require.NoError(t, err)

	task, err := tr.Consume(ctx, TaskSubmitApplication, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, 1, task.Priority)

	decoded, err := task.Decode()
	require.NoError(t, err)
	assert.Equal(t, "Acme", decoded.(SubmitApplicationPayload).Company)
}

func TestDepthAndStats(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)

	for i := 0; i < 3; i++ {
		_, err := tr.Publish(ctx, TaskStatusUpdate, StatusReportPayload{ApplicationID: 1, Status: ReportFailed}, 0)
		require.NoError(t, err)
	}
	_, err := tr.Publish(ctx, TaskApprovalRequest, ApprovalRequestPayload{ApplicationID: 1, Question: "q"}, 0)
	require.NoError(t, err)

	depth, err := tr.Depth(ctx, TaskStatusUpdate)
	require.NoError(t, err)
	assert.EqualValues(t, 3, depth)

	stats, err := tr.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats[TaskStatusUpdate])
	assert.EqualValues(t, 1, stats[TaskApprovalRequest])
	assert.EqualValues(t, 0, stats[TaskSubmitApplication])
	assert.EqualValues(t, 0, stats[TaskSendNotification])
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	tr := newTestTransport(t)

	_, seen, err := tr.LastHeartbeat(ctx, "browser-worker")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, tr.RecordHeartbeat(ctx, "browser-worker"))

	ts, seen, err := tr.LastHeartbeat(ctx, "browser-worker")
	require.NoError(t, err)
	require.True(t, seen)
	assert.WithinDuration(t, time.Now().UTC(), ts, 5*time.Second)
}

func TestDecodeRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name string
		task Task
	}{
		{"unknown type", Task{ID: "x", Type: "mystery", Payload: []byte(`{}`)}},
		{"status update without id", Task{ID: "x", Type: TaskStatusUpdate, Payload: []byte(`{"status":"applied"}`)}},
		{"approval without question", Task{ID: "x", Type: TaskApprovalRequest, Payload: []byte(`{"application_id":4}`)}},
		{"submission without url", Task{ID: "x", Type: TaskSubmitApplication, Payload: []byte(`{"application_id":4}`)}},
		{"not json", Task{ID: "x", Type: TaskStatusUpdate, Payload: []byte(`nope`)}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := c.task.Decode()
			assert.Error(t, err)
		})
	}
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	tr := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	assert.True(t, tr.Health(ctx))
	mr.Close()
	assert.False(t, tr.Health(ctx))
}
