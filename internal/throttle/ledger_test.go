package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDelay = 40 * time.Millisecond

func TestSignature(t *testing.T) {
	assert.Equal(t, "GET:/blog?page=2", Signature("get", "/blog?page=2"))
	assert.Equal(t, "POST:/leads", Signature(" POST ", "/leads"))
}

func TestLedgerSpacing(t *testing.T) {
	ledger := NewLedger(testDelay)
	ctx := context.Background()

	first, err := ledger.Acquire(ctx, "GET:/posts")
	require.NoError(t, err)
	ledger.Release(first, false)

	second, err := ledger.Acquire(ctx, "GET:/posts")
	require.NoError(t, err)
	ledger.Release(second, false)

	assert.GreaterOrEqual(t, second.At.Sub(first.At), testDelay)

	last, ok := ledger.Last("GET:/posts")
	require.True(t, ok)
	assert.True(t, last.Equal(second.At))
}

func TestLedgerFailureRemovesEntry(t *testing.T) {
	ledger := NewLedger(time.Second)
	ctx := context.Background()

	ticket, err := ledger.Acquire(ctx, "POST:/contact")
	require.NoError(t, err)
	ledger.Release(ticket, true)

	_, ok := ledger.Last("POST:/contact")
	require.False(t, ok)

	retry, err := ledger.Acquire(ctx, "POST:/contact")
	require.NoError(t, err)
	assert.Less(t, retry.Waited, 100*time.Millisecond)
}

func TestLedgerFailureKeepsNewerEntry(t *testing.T) {
	ledger := NewLedger(testDelay)
	ctx := context.Background()

	stale, err := ledger.Acquire(ctx, "GET:/jobs")
	require.NoError(t, err)
	fresh, err := ledger.Acquire(ctx, "GET:/jobs")
	require.NoError(t, err)

	ledger.Release(stale, true)

	last, ok := ledger.Last("GET:/jobs")
	require.True(t, ok)
	assert.True(t, last.Equal(fresh.At))
}

func TestLedgerSignaturesIndependent(t *testing.T) {
	ledger := NewLedger(time.Second)
	ctx := context.Background()

	_, err := ledger.Acquire(ctx, "GET:/products")
	require.NoError(t, err)

	other, err := ledger.Acquire(ctx, "GET:/products?page=2")
	require.NoError(t, err)
	assert.Less(t, other.Waited, 100*time.Millisecond)
}

func TestLedgerSerializesInSubmissionOrder(t *testing.T) {
	ledger := NewLedger(testDelay)
	ctx := context.Background()
	const n = 4

	tickets := make([]Ticket, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		ledger.mu.Lock()
		before := ledger.tails["GET:/courses"]
		ledger.mu.Unlock()

		finished := make(chan struct{})
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer close(finished)
			ticket, err := ledger.Acquire(ctx, "GET:/courses")
			assert.NoError(t, err)
			tickets[i] = ticket
		}(i)

		// Wait until submission i is queued before issuing the next one.
		require.Eventually(t, func() bool {
			select {
			case <-finished:
				return true
			default:
			}
			ledger.mu.Lock()
			defer ledger.mu.Unlock()
			tail, ok := ledger.tails["GET:/courses"]
			return ok && tail != before
		}, time.Second, time.Millisecond)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.GreaterOrEqual(t, tickets[i].At.Sub(tickets[i-1].At), testDelay, "dispatch %d", i)
	}
}

func TestLedgerCancelledWaitKeepsChain(t *testing.T) {
	ledger := NewLedger(testDelay)

	first, err := ledger.Acquire(context.Background(), "GET:/tenders")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = ledger.Acquire(ctx, "GET:/tenders")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	next, err := ledger.Acquire(context.Background(), "GET:/tenders")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, next.At.Sub(first.At), testDelay)
}

func TestLedgerSnapshotAndReset(t *testing.T) {
	ledger := NewLedger(testDelay)
	ctx := context.Background()

	_, err := ledger.Acquire(ctx, "GET:/b")
	require.NoError(t, err)
	_, err = ledger.Acquire(ctx, "GET:/a")
	require.NoError(t, err)

	entries := ledger.Snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "GET:/a", entries[0].Signature)
	assert.Equal(t, "GET:/b", entries[1].Signature)

	ledger.Reset()
	assert.Empty(t, ledger.Snapshot())
}

func TestNilLedger(t *testing.T) {
	var ledger *Ledger
	ticket, err := ledger.Acquire(context.Background(), "GET:/")
	require.NoError(t, err)
	assert.Equal(t, "GET:/", ticket.Signature)
	ledger.Release(ticket, true)
	assert.Nil(t, ledger.Snapshot())
}
