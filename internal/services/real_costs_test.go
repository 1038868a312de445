package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/aistory-app/aistory/backend/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestTrackRealCostOnly_LeavesBalanceUntouched(t *testing.T) {
	l := newTestLedger(t)
	user := l.fund(t, "alice", 100)
	before := l.balance(t, user.ID)

	row, err := l.costs.TrackRealCostOnly(context.Background(), TrackRequest{
		UserID:      user.ID,
		RealCost:    realCost("0.24"),
		Type:        models.TxTypeImage,
		Description: "prepaid regeneration",
		Provider:    strPtr("gemini"),
		Metadata:    map[string]interface{}{models.MetaPrepaidRegeneration: true},
	})
	require.NoError(t, err)
	assert.Zero(t, row.Amount)
	assert.True(t, row.IsTrackOnly())

	after := l.balance(t, user.ID)
	assert.Equal(t, before.Balance, after.Balance)
	assert.Equal(t, before.TotalSpent, after.TotalSpent)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	rows := l.transactions(t, user.ID)
	require.Len(t, rows, 2)
	assert.Zero(t, rows[1].Amount)
	assert.True(t, rows[1].RealCost.Decimal.Equal(decimal.RequireFromString("0.24")))
	assert.Equal(t, true, rows[1].Metadata[models.MetaPrepaidRegeneration])
}

func TestTrackRealCostOnly_NoBalanceRequired(t *testing.T) {
	l := newTestLedger(t)
	user := l.createUser(t, "bob", models.RoleUser, nil)

	_, err := l.costs.TrackRealCostOnly(context.Background(), TrackRequest{UserID: user.ID, RealCost: realCost("1.50"), Type: models.TxTypeVideo})
	require.NoError(t, err)

	var count int64
	require.NoError(t, l.db.Model(&models.CreditBalance{}).Where("user_id = ?", user.ID).Count(&count).Error)
	assert.Zero(t, count, "track-only writes must not provision a balance")
	assert.Equal(t, 1.0, testutil.ToFloat64(l.metrics.trackOnly.WithLabelValues(models.TxTypeVideo)))
}

func TestTrackRealCostOnly_Validation(t *testing.T) {
	l := newTestLedger(t)
	user := l.createUser(t, "carol", models.RoleUser, nil)

	tests := []struct {
		name    string
		req     TrackRequest
		wantErr error
	}{
		{"missing real cost", TrackRequest{UserID: user.ID, Type: models.TxTypeImage}, ErrInvalidRealCost},
		{"negative real cost", TrackRequest{UserID: user.ID, Type: models.TxTypeImage, RealCost: realCost("-1")}, ErrInvalidRealCost},
		{"missing user", TrackRequest{Type: models.TxTypeImage, RealCost: realCost("0.1")}, ErrInvalidUser},
		{"missing type", TrackRequest{UserID: user.ID, RealCost: realCost("0.1")}, ErrMissingType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.costs.TrackRealCostOnly(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// a zero cost is still a cost
	_, err := l.costs.TrackRealCostOnly(context.Background(), TrackRequest{UserID: user.ID, Type: models.TxTypeImage, RealCost: realCost("0")})
	assert.NoError(t, err)
}

func TestTrackRealCostOnly_IdempotencyKey(t *testing.T) {
	l := newTestLedger(t)
	user := l.createUser(t, "dave", models.RoleUser, nil)
	req := TrackRequest{UserID: user.ID, Type: models.TxTypePrompt, RealCost: realCost("0.01"), IdempotencyKey: "track:1"}

	first, err := l.costs.TrackRealCostOnly(context.Background(), req)
	require.NoError(t, err)
	second, err := l.costs.TrackRealCostOnly(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, l.transactions(t, user.ID), 1)
}

func TestProcessTrackTask_DropsInvalidPayload(t *testing.T) {
	l := newTestLedger(t)

	err := l.costs.ProcessTrackTask(context.Background(), &TrackRequest{UserID: 1, Type: models.TxTypeImage})
	assert.NoError(t, err, "invalid payloads must not be retried")
}

func TestCostTracker_TrackThroughSyncQueue(t *testing.T) {
	l := newTestLedger(t)
	user := l.fund(t, "erin", 100)

	queue := NewSyncQueue()
	queue.SetProcessor(l.costs.ProcessTrackTask)
	tracker := NewCostTracker(queue)

	tracker.Track(TrackRequest{UserID: user.ID, Type: models.TxTypeScene, RealCost: realCost("0.039"), Provider: strPtr("gemini")})
	tracker.Track(TrackRequest{UserID: user.ID, Type: models.TxTypeScene, RealCost: realCost("0.039"), Provider: strPtr("gemini")})
	require.NoError(t, queue.Close())

	rows := l.transactions(t, user.ID)
	require.Len(t, rows, 3)
	for _, row := range rows[1:] {
		assert.Zero(t, row.Amount)
		require.NotNil(t, row.IdempotencyKey, "tracker must assign a key so retries do not duplicate")
	}
	assert.NotEqual(t, *rows[1].IdempotencyKey, *rows[2].IdempotencyKey)
	assert.Equal(t, int64(100), l.balance(t, user.ID).Balance)
}

type failingQueue struct {
	mu    sync.Mutex
	calls int
}

func (q *failingQueue) Enqueue(*TrackRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	return errors.New("redis unavailable")
}

func (q *failingQueue) IsAsync() bool { return true }

func (q *failingQueue) Close() error { return nil }

func TestCostTracker_EnqueueFailureIsSwallowed(t *testing.T) {
	queue := &failingQueue{}
	tracker := NewCostTracker(queue)

	assert.NotPanics(t, func() {
		tracker.Track(TrackRequest{UserID: 1, Type: models.TxTypeImage, RealCost: realCost("0.24")})
	})
	assert.Equal(t, 1, queue.calls)
}

func TestDerivedIdempotencyKeysFitColumn(t *testing.T) {
	parsed, err := schema.Parse(&models.CreditTransaction{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	field := parsed.LookUpField("IdempotencyKey")
	require.NotNil(t, field)
	assert.Equal(t, models.IdempotencyKeyMaxLen, field.Size)

	clientKey := strings.Repeat("k", models.ClientIdempotencyKeyMaxLen)
	derived := []string{
		clientKey,
		TrackKey(clientKey),
		PrepaidClaimKey(math.MaxUint32),
		fmt.Sprintf("refund:%d", uint(math.MaxUint32)),
	}
	for _, key := range derived {
		assert.LessOrEqual(t, len(key), field.Size, key)
	}
}

func TestEnhancePrompt_LongestClientKeyTracked(t *testing.T) {
	f := newGenerationFixture(t, okGenerator())
	ctx := context.Background()
	_, err := f.credits.AddCredits(ctx, GrantRequest{UserID: f.project.OwnerID, Amount: 3})
	require.NoError(t, err)

	key := strings.Repeat("k", models.ClientIdempotencyKeyMaxLen)
	_, err = f.service.EnhancePrompt(ctx, f.project.OwnerID, f.project, EnhancePromptRequest{Prompt: "a harbor", IdempotencyKey: key})
	require.NoError(t, err)
	f.queue.Close()

	var track models.CreditTransaction
	require.NoError(t, f.db.Where("amount = 0").Take(&track).Error)
	require.NotNil(t, track.IdempotencyKey)
	assert.Equal(t, TrackKey(key), *track.IdempotencyKey)
	assert.LessOrEqual(t, len(*track.IdempotencyKey), models.IdempotencyKeyMaxLen)
}
