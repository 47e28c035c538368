package attachments

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/airsync/pkg/errors"
	"github.com/ajitpratap0/airsync/pkg/models"
)

type memoryLedger struct {
	mu  sync.Mutex
	ids []string
}

func (l *memoryLedger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, v := range l.ids {
		if v == id {
			return true
		}
	}
	return false
}

func (l *memoryLedger) Append(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (l *memoryLedger) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

func makeAttachments(n int) []models.NormalizedAttachment {
	out := make([]models.NormalizedAttachment, n)
	for i := range out {
		id := fmt.Sprint(i + 1)
		out[i] = models.NormalizedAttachment{ID: id, URL: "https://example.com/" + id, FileName: id + ".bin", ParentID: "p"}
	}
	return out
}

func TestStreamAllProcessesEverything(t *testing.T) {
	ledger := &memoryLedger{}
	var calls int32
	process := func(ctx context.Context, a models.NormalizedAttachment) (Result, error) {
		atomic.AddInt32(&calls, 1)
		return Result{}, nil
	}

	res, err := NewPool(makeAttachments(25), 5, ledger, process, zaptest.NewLogger(t)).StreamAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, int32(25), atomic.LoadInt32(&calls))
	assert.Len(t, ledger.IDs(), 25)
}

func TestStreamAllSkipsAlreadyProcessed(t *testing.T) {
	ledger := &memoryLedger{ids: []string{"1", "3"}}
	var (
		mu   sync.Mutex
		seen []string
	)
	process := func(ctx context.Context, a models.NormalizedAttachment) (Result, error) {
		mu.Lock()
		seen = append(seen, a.ID)
		mu.Unlock()
		return Result{}, nil
	}

	_, err := NewPool(makeAttachments(4), 1, ledger, process, zaptest.NewLogger(t)).StreamAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4"}, seen)
	assert.ElementsMatch(t, []string{"1", "3", "2", "4"}, ledger.IDs())
}

func TestStreamAllStopsOnDelay(t *testing.T) {
	ledger := &memoryLedger{}
	var calls int32
	process := func(ctx context.Context, a models.NormalizedAttachment) (Result, error) {
		atomic.AddInt32(&calls, 1)
		if a.ID == "2" {
			return Result{Delay: 30}, nil
		}
		return Result{}, nil
	}

	res, err := NewPool(makeAttachments(10), 1, ledger, process, zaptest.NewLogger(t)).StreamAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, res.Delay)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"1"}, ledger.IDs())
}

func TestStreamAllDelayStopsOtherWorkers(t *testing.T) {
	ledger := &memoryLedger{}
	release := make(chan struct{})
	var calls int32
	process := func(ctx context.Context, a models.NormalizedAttachment) (Result, error) {
		atomic.AddInt32(&calls, 1)
		if a.ID == "1" {
			close(release)
			return Result{Delay: 5}, nil
		}
		<-release
		time.Sleep(10 * time.Millisecond)
		return Result{}, nil
	}

	res, err := NewPool(makeAttachments(100), 3, ledger, process, zaptest.NewLogger(t)).StreamAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Delay)
	// Only the items already in flight finish; no worker takes new ones.
	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(3))
	assert.NotContains(t, ledger.IDs(), "1")
}

func TestStreamAllErrorsAreSkipped(t *testing.T) {
	ledger := &memoryLedger{}
	process := func(ctx context.Context, a models.NormalizedAttachment) (Result, error) {
		switch a.ID {
		case "2":
			return Result{}, fmt.Errorf("download failed")
		case "4":
			return Result{}, errors.FromStatus(503, errors.ErrorTypeConnection, "fetching attachment %s failed", a.ID)
		}
		return Result{}, nil
	}

	core, logs := observer.New(zap.WarnLevel)
	res, err := NewPool(makeAttachments(4), 2, ledger, process, zap.New(core)).StreamAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Delay)
	assert.ElementsMatch(t, []string{"1", "3"}, ledger.IDs())

	skipped := logs.FilterMessage("skipping attachment").All()
	require.Len(t, skipped, 2)
	retryable := map[string]bool{}
	for _, entry := range skipped {
		fields := entry.ContextMap()
		retryable[fields["attachment_id"].(string)] = fields["retryable"].(bool)
	}
	assert.Equal(t, map[string]bool{"2": false, "4": true}, retryable)
}

func TestStreamAllConcurrencyBound(t *testing.T) {
	var inFlight, peak int32
	process := func(ctx context.Context, a models.NormalizedAttachment) (Result, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return Result{}, nil
	}

	_, err := NewPool(makeAttachments(40), 4, &memoryLedger{}, process, zaptest.NewLogger(t)).StreamAll(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
}

func TestStreamAllStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	process := func(ctx context.Context, a models.NormalizedAttachment) (Result, error) {
		if atomic.AddInt32(&calls, 1) == 2 {
			cancel()
		}
		return Result{}, nil
	}

	_, err := NewPool(makeAttachments(10), 1, &memoryLedger{}, process, zaptest.NewLogger(t)).StreamAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStreamAllWithoutLedger(t *testing.T) {
	_, err := NewPool(makeAttachments(1), 1, nil, nil, zaptest.NewLogger(t)).StreamAll(context.Background())
	assert.Error(t, err)
}

func TestStreamAllEmptyQueue(t *testing.T) {
	res, err := NewPool(nil, 10, &memoryLedger{}, nil, zaptest.NewLogger(t)).StreamAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}
