// Package txqueue runs on-chain transaction submissions through a
// single-concurrency FIFO queue per signer, so two submissions from the
// same account never race for the same nonce (spec §5: "On-chain
// transaction submissions ... run through a single-concurrency FIFO queue
// per signer to prevent nonce collisions"). Grounded on the teacher's
// lnd.go startup/shutdown sequencing idiom: one worker goroutine per
// resource, started and drained in order, rather than an ad hoc pool.
package txqueue

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/decred/dcrlnd-statechannel/chandb"
	"github.com/decred/dcrlnd-statechannel/chanlog"
)

var log = chanlog.Disabled()

// UseLogger sets the package-level logger.
func UseLogger(logger chanlog.Logger) {
	log = logger
}

// Sender is the minimal on-chain submission surface txqueue drives. A real
// binding wraps *ethclient.Client.SendTransaction plus a receipt poller;
// kept as an interface so the queue itself never imports ethclient.
type Sender interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// EventType enumerates the submission lifecycle spec §5 names: "Submission
// lifecycle events - submitted, mined, failed - are emitted to subscribers
// and persisted to the store."
type EventType string

const (
	EventSubmitted EventType = "tx_submitted"
	EventMined     EventType = "tx_mined"
	EventFailed    EventType = "tx_failed"
)

// Event is published once per lifecycle transition of a queued transaction.
type Event struct {
	Type           EventType
	Hash           common.Hash
	ChannelAddress common.Address
	BlockNumber    uint64
	GasUsed        uint64
	Reason         string
}

// eventBufferSize matches chanengine's EventSink sizing: bounded,
// non-backpressuring delivery to subscribers.
const eventBufferSize = 64

// EventSink is the same bounded pub/sub shape as chanengine.EventSink,
// duplicated here rather than shared because txqueue must not import
// chanengine (chanengine is the caller, not a dependency, of txqueue).
type EventSink struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewEventSink builds an empty sink.
func NewEventSink() *EventSink {
	return &EventSink{}
}

// Subscribe returns a channel receiving every future Publish call.
func (s *EventSink) Subscribe() <-chan Event {
	ch := make(chan Event, eventBufferSize)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Publish fans ev out, dropping it for any subscriber whose buffer is full.
func (s *EventSink) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			log.Warnf("dropping %s event for tx %s: subscriber buffer full", ev.Type, ev.Hash.Hex())
		}
	}
}

// job is one queued submission.
type job struct {
	ctx            context.Context
	channel        common.Address
	build          func(ctx context.Context) (*types.Transaction, error)
	done           chan error
}

// Queue is a single-concurrency FIFO of submissions for one signer account.
// Exactly one worker goroutine drains it, so SendTransaction calls for this
// account are never concurrent - the property spec §5 requires to avoid
// nonce collisions.
type Queue struct {
	signer common.Address
	sender Sender
	store  chandb.Store
	events *EventSink

	group singleflight.Group

	jobs   chan *job
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Queue for signer, backed by sender for submission/receipt
// polling and store for lifecycle persistence. Callers must call Start
// before enqueuing and Stop to drain cleanly on shutdown.
func New(signer common.Address, sender Sender, store chandb.Store, events *EventSink) *Queue {
	if events == nil {
		events = NewEventSink()
	}
	return &Queue{
		signer: signer,
		sender: sender,
		store:  store,
		events: events,
		jobs:   make(chan *job, 64),
		stopCh: make(chan struct{}),
	}
}

// Start launches the single worker goroutine. Mirrors the teacher's lnd.go
// pattern of an explicit Start/Stop pair around a long-lived goroutine
// rather than launching work from the constructor.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Stop closes the job queue and waits for the worker to drain it. Jobs
// already enqueued are allowed to finish; no new jobs are accepted after
// Stop returns.
func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case j := <-q.jobs:
			j.done <- q.run(j)
		case <-q.stopCh:
			// Drain whatever is already queued before exiting, so a
			// caller blocked on Submit doesn't leak.
			for {
				select {
				case j := <-q.jobs:
					j.done <- q.run(j)
				default:
					return
				}
			}
		}
	}
}

// Submit enqueues build to run on this queue's single worker and blocks
// until it has been sent and a receipt observed (or ctx is cancelled).
// build is invoked on the worker goroutine, immediately before signing and
// sending, so a nonce read inside build is guaranteed to see the effect of
// every prior submission on this queue.
func (q *Queue) Submit(ctx context.Context, channel common.Address, build func(ctx context.Context) (*types.Transaction, error)) error {
	select {
	case <-q.stopCh:
		return errors.New("txqueue: queue stopped")
	default:
	}
	j := &job{ctx: ctx, channel: channel, build: build, done: make(chan error, 1)}
	select {
	case q.jobs <- j:
	case <-q.stopCh:
		return errors.New("txqueue: queue stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run performs one submission end to end: build, singleflight-dedupe, send,
// persist-submitted, wait for a receipt, persist-mined/failed. It always
// runs on the single worker goroutine, so sends for this signer are never
// concurrent.
func (q *Queue) run(j *job) error {
	tx, err := j.build(j.ctx)
	if err != nil {
		return errors.WithMessage(err, "txqueue: building transaction")
	}

	hash := tx.Hash()

	// Collapse duplicate in-flight submissions of the identical
	// transaction (e.g. a resubmission request racing a retry) so the
	// same signed payload is never sent to the network twice.
	_, err, _ = q.group.Do(hash.Hex(), func() (interface{}, error) {
		return nil, q.sendAndTrack(j.ctx, j.channel, tx)
	})
	return err
}

func (q *Queue) sendAndTrack(ctx context.Context, channel common.Address, tx *types.Transaction) error {
	hash := tx.Hash()

	if err := q.sender.SendTransaction(ctx, tx); err != nil {
		q.persistFailure(hash, channel, err.Error())
		return errors.WithMessage(err, "txqueue: sending transaction")
	}

	if err := q.store.SaveTransactionResponse(&chandb.TransactionRecord{
		Hash:           hash,
		ChannelAddress: channel,
		Status:         chandb.TxStatusSubmitted,
	}); err != nil {
		log.Errorf("txqueue: persisting submitted tx %s: %v", hash.Hex(), err)
	}
	q.events.Publish(Event{Type: EventSubmitted, Hash: hash, ChannelAddress: channel})

	receipt, err := q.sender.TransactionReceipt(ctx, hash)
	if err != nil {
		q.persistFailure(hash, channel, err.Error())
		return errors.WithMessage(err, "txqueue: awaiting receipt")
	}
	if receipt.Status == types.ReceiptStatusFailed {
		q.persistFailure(hash, channel, "transaction reverted")
		return errors.Errorf("txqueue: transaction %s reverted", hash.Hex())
	}

	if err := q.store.SaveTransactionReceipt(hash, receipt.BlockNumber.Uint64(), receipt.GasUsed); err != nil {
		log.Errorf("txqueue: persisting receipt for tx %s: %v", hash.Hex(), err)
	}
	q.events.Publish(Event{
		Type:           EventMined,
		Hash:           hash,
		ChannelAddress: channel,
		BlockNumber:    receipt.BlockNumber.Uint64(),
		GasUsed:        receipt.GasUsed,
	})
	return nil
}

func (q *Queue) persistFailure(hash common.Hash, channel common.Address, reason string) {
	if err := q.store.SaveTransactionFailure(hash, reason); err != nil {
		log.Errorf("txqueue: persisting failure for tx %s: %v", hash.Hex(), err)
	}
	q.events.Publish(Event{Type: EventFailed, Hash: hash, ChannelAddress: channel, Reason: reason})
}
