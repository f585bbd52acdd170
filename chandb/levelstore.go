package chandb

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/decred/dcrlnd-statechannel/chanlog"
	"github.com/decred/dcrlnd-statechannel/chanstate"
	"github.com/decred/dcrlnd-statechannel/chanvalidator"
)

var log = chanlog.Disabled()

// UseLogger sets the package-level logger.
func UseLogger(logger chanlog.Logger) {
	log = logger
}

// Key prefixes, one per entity kind, following the teacher's
// bucket-per-entity-kind convention (channeldb/nodes.go's nodeInfoBucket)
// translated into goleveldb key prefixes since goleveldb has no native
// buckets.
const (
	prefixChannel       = "ch:"
	prefixChannelByPart = "chbp:"
	prefixTransfer      = "tr:"
	prefixActiveIndex   = "chact:"
	prefixWithdraw      = "wd:"
	prefixWithdrawByTx  = "wdtx:"
	prefixWithdrawTxRec = "wdrec:"
	prefixTxRecord      = "txrec:"
)

// LevelStore is a Store implementation backed by
// github.com/syndtr/goleveldb/leveldb, the same embedded-KV library
// go-perun's own channel/client persistence depends on.
type LevelStore struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) a LevelStore at path.
func Open(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.WithMessage(err, "opening leveldb store")
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

func channelKey(addr common.Address) []byte {
	return append([]byte(prefixChannel), addr.Bytes()...)
}

func channelByParticipantsKey(aliceIdentifier, bobIdentifier string, chainID *big.Int) []byte {
	k := []byte(prefixChannelByPart)
	k = append(k, []byte(aliceIdentifier)...)
	k = append(k, 0)
	k = append(k, []byte(bobIdentifier)...)
	k = append(k, 0)
	k = append(k, []byte(chainID.String())...)
	return k
}

func transferKey(id [32]byte) []byte {
	return append([]byte(prefixTransfer), id[:]...)
}

func activeIndexKey(channel common.Address) []byte {
	return append([]byte(prefixActiveIndex), channel.Bytes()...)
}

func withdrawKey(id [32]byte) []byte {
	return append([]byte(prefixWithdraw), id[:]...)
}

func withdrawByTxKey(hash common.Hash) []byte {
	return append([]byte(prefixWithdrawByTx), hash.Bytes()...)
}

func withdrawTxRecordKey(commitmentHash [32]byte, channel common.Address, chainID *big.Int) []byte {
	k := []byte(prefixWithdrawTxRec)
	k = append(k, commitmentHash[:]...)
	k = append(k, channel.Bytes()...)
	k = append(k, []byte(chainID.String())...)
	return k
}

func txRecordKey(hash common.Hash) []byte {
	return append([]byte(prefixTxRecord), hash.Bytes()...)
}

func (s *LevelStore) GetChannelState(channel common.Address) (*chanstate.ChannelState, error) {
	b, err := s.db.Get(channelKey(channel), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.WithMessage(err, "GetChannelState")
	}
	return decodeChannelState(b)
}

func (s *LevelStore) GetChannelStateByParticipants(aliceIdentifier, bobIdentifier string, chainID *big.Int) (*chanstate.ChannelState, error) {
	addrBytes, err := s.db.Get(channelByParticipantsKey(aliceIdentifier, bobIdentifier, chainID), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.WithMessage(err, "GetChannelStateByParticipants")
	}
	return s.GetChannelState(common.BytesToAddress(addrBytes))
}

func (s *LevelStore) GetActiveTransfers(channel common.Address) ([]*chanstate.Transfer, error) {
	ids, err := s.readActiveIndex(channel)
	if err != nil {
		return nil, errors.WithMessage(err, "GetActiveTransfers")
	}
	out := make([]*chanstate.Transfer, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTransferState(id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *LevelStore) GetTransferState(transferID [32]byte) (*chanstate.Transfer, error) {
	b, err := s.db.Get(transferKey(transferID), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.WithMessage(err, "GetTransferState")
	}
	return decodeTransfer(b)
}

func (s *LevelStore) GetTransfers(filter TransferFilter) ([]*chanstate.Transfer, error) {
	if filter.TransferID != nil {
		t, err := s.GetTransferState(*filter.TransferID)
		if err != nil {
			if err == ErrNotFound {
				return nil, nil
			}
			return nil, err
		}
		return []*chanstate.Transfer{t}, nil
	}

	if filter.ActiveOnly {
		return s.GetActiveTransfers(filter.ChannelAddress)
	}

	var out []*chanstate.Transfer
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) <= len(prefixTransfer) || string(key[:len(prefixTransfer)]) != prefixTransfer {
			continue
		}
		t, err := decodeTransfer(iter.Value())
		if err != nil {
			return nil, errors.WithMessage(err, "GetTransfers: decoding transfer")
		}
		if filter.ChannelAddress != (common.Address{}) && t.ChannelAddress != filter.ChannelAddress {
			continue
		}
		if filter.AssetID != nil && t.AssetID != *filter.AssetID {
			continue
		}
		out = append(out, t)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.WithMessage(err, "GetTransfers: iterating")
	}
	return out, nil
}

func (s *LevelStore) readActiveIndex(channel common.Address) ([][32]byte, error) {
	b, err := s.db.Get(activeIndexKey(channel), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n := len(b) / 32
	out := make([][32]byte, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], b[i*32:(i+1)*32])
	}
	return out, nil
}

func encodeActiveIndex(ids [][32]byte) []byte {
	out := make([]byte, 0, len(ids)*32)
	for _, id := range ids {
		out = append(out, id[:]...)
	}
	return out
}

// SaveChannelState persists state and, if transfer is non-nil, folds it into
// the channel's active-transfer index in the same atomic batch (spec §6:
// "All save operations must be atomic at channel scope").
func (s *LevelStore) SaveChannelState(state *chanstate.ChannelState, transfer *chanstate.Transfer) error {
	batch := new(leveldb.Batch)

	encodedState, err := encodeChannelState(state)
	if err != nil {
		return errors.WithMessage(err, "SaveChannelState")
	}
	batch.Put(channelKey(state.ChannelAddress), encodedState)
	batch.Put(
		channelByParticipantsKey(state.AliceIdentifier, state.BobIdentifier, state.NetworkContext.ChainID),
		state.ChannelAddress.Bytes(),
	)

	if transfer != nil {
		encodedTransfer, err := encodeTransfer(transfer)
		if err != nil {
			return errors.WithMessage(err, "SaveChannelState: encoding transfer")
		}
		batch.Put(transferKey(transfer.TransferID), encodedTransfer)

		ids, err := s.readActiveIndex(state.ChannelAddress)
		if err != nil {
			return errors.WithMessage(err, "SaveChannelState: reading active index")
		}
		ids = upsertOrRemoveActive(ids, transfer)
		batch.Put(activeIndexKey(state.ChannelAddress), encodeActiveIndex(ids))
	}

	if err := s.db.Write(batch, nil); err != nil {
		return errors.WithMessage(err, "SaveChannelState: writing batch")
	}
	log.Debugf("saved channel %s at nonce %d", state.ChannelAddress.Hex(), state.Nonce)
	return nil
}

// upsertOrRemoveActive adds t.TransferID to ids if t is active and not
// already present, or removes it if t is resolved.
func upsertOrRemoveActive(ids [][32]byte, t *chanstate.Transfer) [][32]byte {
	idx := -1
	for i, id := range ids {
		if id == t.TransferID {
			idx = i
			break
		}
	}
	if t.Active() {
		if idx < 0 {
			ids = append(ids, t.TransferID)
		}
		return ids
	}
	if idx >= 0 {
		ids = append(ids[:idx], ids[idx+1:]...)
	}
	return ids
}

// SaveChannelStateAndTransfers atomically replaces the channel's active set,
// used after a sync (spec §4.4) that may have touched more than one
// transfer.
func (s *LevelStore) SaveChannelStateAndTransfers(state *chanstate.ChannelState, activeTransfers []*chanstate.Transfer) error {
	batch := new(leveldb.Batch)

	encodedState, err := encodeChannelState(state)
	if err != nil {
		return errors.WithMessage(err, "SaveChannelStateAndTransfers")
	}
	batch.Put(channelKey(state.ChannelAddress), encodedState)
	batch.Put(
		channelByParticipantsKey(state.AliceIdentifier, state.BobIdentifier, state.NetworkContext.ChainID),
		state.ChannelAddress.Bytes(),
	)

	ids := make([][32]byte, 0, len(activeTransfers))
	for _, t := range activeTransfers {
		encoded, err := encodeTransfer(t)
		if err != nil {
			return errors.WithMessage(err, "SaveChannelStateAndTransfers: encoding transfer")
		}
		batch.Put(transferKey(t.TransferID), encoded)
		ids = append(ids, t.TransferID)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	batch.Put(activeIndexKey(state.ChannelAddress), encodeActiveIndex(ids))

	if err := s.db.Write(batch, nil); err != nil {
		return errors.WithMessage(err, "SaveChannelStateAndTransfers: writing batch")
	}
	log.Debugf("saved channel %s and %d active transfers at nonce %d",
		state.ChannelAddress.Hex(), len(activeTransfers), state.Nonce)
	return nil
}

func lessID(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (s *LevelStore) SaveWithdrawalCommitment(transferID [32]byte, commitment *chanvalidator.WithdrawCommitment) error {
	encoded, err := encodeWithdrawCommitment(commitment)
	if err != nil {
		return errors.WithMessage(err, "SaveWithdrawalCommitment")
	}
	batch := new(leveldb.Batch)
	batch.Put(withdrawKey(transferID), encoded)
	if err := s.db.Write(batch, nil); err != nil {
		return errors.WithMessage(err, "SaveWithdrawalCommitment: writing")
	}
	return nil
}

func (s *LevelStore) GetWithdrawalCommitment(transferID [32]byte) (*chanvalidator.WithdrawCommitment, error) {
	b, err := s.db.Get(withdrawKey(transferID), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.WithMessage(err, "GetWithdrawalCommitment")
	}
	return decodeWithdrawCommitment(b)
}

func (s *LevelStore) GetWithdrawalCommitmentByTransactionHash(hash common.Hash) (*chanvalidator.WithdrawCommitment, error) {
	idBytes, err := s.db.Get(withdrawByTxKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.WithMessage(err, "GetWithdrawalCommitmentByTransactionHash")
	}
	var id [32]byte
	copy(id[:], idBytes)
	return s.GetWithdrawalCommitment(id)
}

// GetWithdrawalTransactionRecord resolves spec §9 Open Question #2: the
// commitment's own hash identifies *which* withdrawal, channel+chainID
// identifies *which contract instance* it was submitted against - both are
// independent parameters because a channel may migrate to a new contract
// instance over its life.
func (s *LevelStore) GetWithdrawalTransactionRecord(commitment *chanvalidator.WithdrawCommitment, channel common.Address, chainID *big.Int) (bool, error) {
	digest, err := commitment.Hash()
	if err != nil {
		return false, errors.WithMessage(err, "GetWithdrawalTransactionRecord: hashing commitment")
	}
	_, err = s.db.Get(withdrawTxRecordKey(digest, channel, chainID), nil)
	if err == leveldb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.WithMessage(err, "GetWithdrawalTransactionRecord")
	}
	return true, nil
}

func (s *LevelStore) SaveTransactionResponse(record *TransactionRecord) error {
	batch := new(leveldb.Batch)
	batch.Put(txRecordKey(record.Hash), marshalTxRecord(record))
	if err := s.db.Write(batch, nil); err != nil {
		return errors.WithMessage(err, "SaveTransactionResponse")
	}
	log.Infof("transaction %s submitted for channel %s", record.Hash.Hex(), record.ChannelAddress.Hex())
	return nil
}

func (s *LevelStore) SaveTransactionReceipt(hash common.Hash, blockNumber, gasUsed uint64) error {
	record, err := s.getTxRecord(hash)
	if err != nil {
		return errors.WithMessage(err, "SaveTransactionReceipt")
	}
	record.Status = TxStatusMined
	record.BlockNumber = blockNumber
	record.GasUsed = gasUsed

	batch := new(leveldb.Batch)
	batch.Put(txRecordKey(hash), marshalTxRecord(record))
	if err := s.db.Write(batch, nil); err != nil {
		return errors.WithMessage(err, "SaveTransactionReceipt: writing")
	}
	log.Infof("transaction %s mined in block %d", hash.Hex(), blockNumber)
	return nil
}

func (s *LevelStore) SaveTransactionFailure(hash common.Hash, reason string) error {
	record, err := s.getTxRecord(hash)
	if err != nil {
		return errors.WithMessage(err, "SaveTransactionFailure")
	}
	record.Status = TxStatusFailed
	record.Reason = reason

	batch := new(leveldb.Batch)
	batch.Put(txRecordKey(hash), marshalTxRecord(record))
	if err := s.db.Write(batch, nil); err != nil {
		return errors.WithMessage(err, "SaveTransactionFailure: writing")
	}
	log.Warnf("transaction %s failed: %s", hash.Hex(), reason)
	return nil
}

func (s *LevelStore) getTxRecord(hash common.Hash) (*TransactionRecord, error) {
	b, err := s.db.Get(txRecordKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return unmarshalTxRecord(b)
}

func marshalTxRecord(r *TransactionRecord) []byte {
	buf := make([]byte, 0, 20+20+1+8+8+len(r.Reason))
	buf = append(buf, r.Hash.Bytes()...)
	buf = append(buf, r.ChannelAddress.Bytes()...)
	buf = append(buf, []byte(r.Status)...)
	buf = append(buf, 0)
	var numBuf [16]byte
	byteOrder.PutUint64(numBuf[:8], r.BlockNumber)
	byteOrder.PutUint64(numBuf[8:], r.GasUsed)
	buf = append(buf, numBuf[:]...)
	buf = append(buf, []byte(r.Reason)...)
	return buf
}

func unmarshalTxRecord(b []byte) (*TransactionRecord, error) {
	if len(b) < 32+20+1+16 {
		return nil, errors.New("chandb: truncated transaction record")
	}
	r := &TransactionRecord{}
	copy(r.Hash[:], b[:32])
	r.ChannelAddress = common.BytesToAddress(b[32:52])

	rest := b[52:]
	nul := indexByte(rest, 0)
	if nul < 0 {
		return nil, errors.New("chandb: malformed transaction record status")
	}
	r.Status = TransactionStatus(rest[:nul])
	rest = rest[nul+1:]
	if len(rest) < 16 {
		return nil, errors.New("chandb: truncated transaction record numbers")
	}
	r.BlockNumber = byteOrder.Uint64(rest[:8])
	r.GasUsed = byteOrder.Uint64(rest[8:16])
	r.Reason = string(rest[16:])
	return r, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

var _ Store = (*LevelStore)(nil)
