package txqueue

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/decred/dcrlnd-statechannel/chandb"
)

// fakeSender records SendTransaction/TransactionReceipt calls and lets each
// test script the outcome.
type fakeSender struct {
	mu sync.Mutex

	sendCount    int
	concurrent   int
	maxConcurrent int

	sendErr    error
	receiptErr error
	receipt    *types.Receipt

	sendDelay time.Duration
}

func (f *fakeSender) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	f.sendCount++
	f.concurrent++
	if f.concurrent > f.maxConcurrent {
		f.maxConcurrent = f.concurrent
	}
	err := f.sendErr
	delay := f.sendDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.concurrent--
	f.mu.Unlock()
	return err
}

func (f *fakeSender) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1), GasUsed: 21000}, nil
}

func minedReceipt() *types.Receipt {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(7), GasUsed: 50000}
}

func openTestQueueStore(t *testing.T) *chandb.LevelStore {
	t.Helper()
	store, err := chandb.Open(filepath.Join(t.TempDir(), "txqueue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func buildTx(nonce uint64) func(context.Context) (*types.Transaction, error) {
	return func(ctx context.Context) (*types.Transaction, error) {
		to := common.HexToAddress("0xbeef")
		return types.NewTransaction(nonce, to, big.NewInt(1), 21000, big.NewInt(1), nil), nil
	}
}

func TestQueueSubmitPersistsSubmittedAndMined(t *testing.T) {
	store := openTestQueueStore(t)
	sender := &fakeSender{receipt: minedReceipt()}
	events := NewEventSink()
	sub := events.Subscribe()

	q := New(common.HexToAddress("0xa11ce"), sender, store, events)
	q.Start()
	defer q.Stop()

	channel := common.HexToAddress("0xc4a4")
	require.NoError(t, q.Submit(context.Background(), channel, buildTx(0)))

	var gotSubmitted, gotMined bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub:
			if ev.Type == EventSubmitted {
				gotSubmitted = true
			}
			if ev.Type == EventMined {
				gotMined = true
				require.EqualValues(t, 7, ev.BlockNumber)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for lifecycle events")
		}
	}
	require.True(t, gotSubmitted)
	require.True(t, gotMined)
}

func TestQueueSendFailurePersistsFailureAndReturnsError(t *testing.T) {
	store := openTestQueueStore(t)
	sender := &fakeSender{sendErr: errors.New("rpc unreachable")}
	events := NewEventSink()
	sub := events.Subscribe()

	q := New(common.HexToAddress("0xa11ce"), sender, store, events)
	q.Start()
	defer q.Stop()

	err := q.Submit(context.Background(), common.HexToAddress("0xc4a4"), buildTx(0))
	require.Error(t, err)

	select {
	case ev := <-sub:
		require.Equal(t, EventFailed, ev.Type)
		require.Contains(t, ev.Reason, "rpc unreachable")
	case <-time.After(time.Second):
		t.Fatal("never received a failed event")
	}
}

func TestQueueRevertedReceiptIsTreatedAsFailure(t *testing.T) {
	store := openTestQueueStore(t)
	sender := &fakeSender{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}}
	events := NewEventSink()
	sub := events.Subscribe()

	q := New(common.HexToAddress("0xa11ce"), sender, store, events)
	q.Start()
	defer q.Stop()

	err := q.Submit(context.Background(), common.HexToAddress("0xc4a4"), buildTx(0))
	require.Error(t, err)

	select {
	case ev := <-sub:
		require.Equal(t, EventFailed, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("never received a failed event")
	}
}

func TestQueueBuildErrorNeverReachesSender(t *testing.T) {
	store := openTestQueueStore(t)
	sender := &fakeSender{}

	q := New(common.HexToAddress("0xa11ce"), sender, store, nil)
	q.Start()
	defer q.Stop()

	buildErr := errors.New("insufficient funds")
	err := q.Submit(context.Background(), common.HexToAddress("0xc4a4"), func(ctx context.Context) (*types.Transaction, error) {
		return nil, buildErr
	})
	require.Error(t, err)
	require.Equal(t, 0, sender.sendCount)
}

func TestQueueSingleWorkerNeverSendsConcurrently(t *testing.T) {
	store := openTestQueueStore(t)
	sender := &fakeSender{receipt: minedReceipt(), sendDelay: 20 * time.Millisecond}

	q := New(common.HexToAddress("0xa11ce"), sender, store, nil)
	q.Start()
	defer q.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, q.Submit(context.Background(), common.HexToAddress("0xc4a4"), buildTx(uint64(i))))
		}()
	}
	wg.Wait()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Equal(t, 5, sender.sendCount)
	require.Equal(t, 1, sender.maxConcurrent, "a single signer's sends must never overlap")
}

func TestQueueDedupesIdenticalInFlightSubmissions(t *testing.T) {
	store := openTestQueueStore(t)
	sender := &fakeSender{receipt: minedReceipt(), sendDelay: 30 * time.Millisecond}

	q := New(common.HexToAddress("0xa11ce"), sender, store, nil)
	q.Start()
	defer q.Stop()

	var attempts int32
	build := func(ctx context.Context) (*types.Transaction, error) {
		atomic.AddInt32(&attempts, 1)
		return types.NewTransaction(3, common.HexToAddress("0xbeef"), big.NewInt(1), 21000, big.NewInt(1), nil), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, q.Submit(context.Background(), common.HexToAddress("0xc4a4"), build))
		}()
	}
	wg.Wait()

	// The single worker serializes these anyway, but singleflight must still
	// collapse the identical signed payload into one network send.
	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Equal(t, 1, sender.sendCount, "identical transactions must be deduped through singleflight")
}

func TestQueueStopAfterCompletedSubmit(t *testing.T) {
	store := openTestQueueStore(t)
	sender := &fakeSender{receipt: minedReceipt()}

	q := New(common.HexToAddress("0xa11ce"), sender, store, nil)
	q.Start()

	require.NoError(t, q.Submit(context.Background(), common.HexToAddress("0xc4a4"), buildTx(0)))
	q.Stop()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Equal(t, 1, sender.sendCount)
}
