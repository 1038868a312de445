package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/aistory-app/aistory/backend/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

func TestTaskTypeCostTrack_Constant(t *testing.T) {
	if TaskTypeCostTrack != "cost:track" {
		t.Errorf("TaskTypeCostTrack = %q, expected %q", TaskTypeCostTrack, "cost:track")
	}
}

func TestTrackRequest_PayloadRoundTrip(t *testing.T) {
	projectID := uint(4)
	provider := "kie"
	task := TrackRequest{
		UserID:         9,
		RealCost:       decimal.NewNullDecimal(decimal.RequireFromString("0.0052")),
		Type:           "prompt_enhancement",
		ProjectID:      &projectID,
		Provider:       &provider,
		Metadata:       map[string]interface{}{"prompt_tokens": 120},
		IdempotencyKey: "track:abc",
	}

	payload, err := json.Marshal(&task)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded TrackRequest
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if !decoded.RealCost.Valid || !decoded.RealCost.Decimal.Equal(task.RealCost.Decimal) {
		t.Errorf("RealCost = %v, expected %v", decoded.RealCost, task.RealCost)
	}
	if decoded.ProjectID == nil || *decoded.ProjectID != 4 {
		t.Errorf("ProjectID = %v, expected 4", decoded.ProjectID)
	}
	if decoded.IdempotencyKey != "track:abc" {
		t.Errorf("IdempotencyKey = %q", decoded.IdempotencyKey)
	}
}

func TestSyncQueue_IsAsync(t *testing.T) {
	q := NewSyncQueue()
	if q.IsAsync() {
		t.Error("SyncQueue.IsAsync() should return false")
	}
}

func TestSyncQueue_EnqueueWithoutProcessor(t *testing.T) {
	q := NewSyncQueue()
	if err := q.Enqueue(&TrackRequest{UserID: 1}); err != nil {
		t.Errorf("Enqueue() without processor should not fail, got %v", err)
	}
}

func TestSyncQueue_CloseWaitsForTasks(t *testing.T) {
	q := NewSyncQueue()

	var mu sync.Mutex
	var seen []uint
	q.SetProcessor(func(ctx context.Context, task *TrackRequest) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.UserID)
		return nil
	})

	for i := uint(1); i <= 5; i++ {
		if err := q.Enqueue(&TrackRequest{UserID: i}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(seen) != 5 {
		t.Errorf("processed %d tasks, expected 5", len(seen))
	}
}

func TestAsyncQueue_EnqueueWritesLedgerQueue(t *testing.T) {
	mini := miniredis.RunT(t)
	cfg := &config.RedisConfig{Enabled: true, Addr: mini.Addr()}

	q, err := NewAsyncQueue(cfg)
	if err != nil {
		t.Fatalf("NewAsyncQueue() error = %v", err)
	}
	defer q.Close()

	if !q.IsAsync() {
		t.Error("AsyncQueue.IsAsync() should return true")
	}
	if err := q.Enqueue(&TrackRequest{UserID: 3, Type: "image", IdempotencyKey: "k1"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mini.Addr()})
	defer inspector.Close()

	tasks, err := inspector.ListPendingTasks("ledger")
	if err != nil {
		t.Fatalf("ListPendingTasks() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].Type != TaskTypeCostTrack {
		t.Fatalf("pending tasks = %+v, expected one %s task", tasks, TaskTypeCostTrack)
	}
	if tasks[0].MaxRetry != 5 {
		t.Errorf("MaxRetry = %d, expected 5", tasks[0].MaxRetry)
	}
}

func TestNewWorker_DisabledRedis(t *testing.T) {
	if w := NewWorker(&config.RedisConfig{Enabled: false}); w != nil {
		t.Error("NewWorker() should return nil when Redis is disabled")
	}
}

func TestWorker_HandleCostTrackTask(t *testing.T) {
	w := &Worker{mux: asynq.NewServeMux()}

	var got *TrackRequest
	w.SetProcessor(func(ctx context.Context, task *TrackRequest) error {
		got = task
		return nil
	})

	payload, _ := json.Marshal(TrackRequest{UserID: 11, Type: "video"})
	if err := w.handleCostTrackTask(context.Background(), asynq.NewTask(TaskTypeCostTrack, payload)); err != nil {
		t.Fatalf("handleCostTrackTask() error = %v", err)
	}
	if got == nil || got.UserID != 11 || got.Type != "video" {
		t.Errorf("processor received %+v", got)
	}

	if err := w.handleCostTrackTask(context.Background(), asynq.NewTask(TaskTypeCostTrack, []byte("{"))); err == nil {
		t.Error("expected error for malformed payload")
	}
}
