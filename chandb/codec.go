package chandb

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chanstate"
	"github.com/decred/dcrlnd-statechannel/chanvalidator"
)

// byteOrder matches the teacher's channeldb/nodes.go convention of a single
// package-level byte order used across every serialize/deserialize pair.
var byteOrder = binary.BigEndian

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	byteOrder.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return byteOrder.Uint64(buf[:]), nil
}

func writeBool(w io.Writer, b bool) error {
	var v byte
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

func readBool(r io.Reader) (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, err
	}
	return buf[0] == 1, nil
}

func writeAddress(w io.Writer, a common.Address) error {
	_, err := w.Write(a.Bytes())
	return err
}

func readAddress(r io.Reader) (common.Address, error) {
	var buf [20]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(buf[:]), nil
}

func writeHash(w io.Writer, h [32]byte) error {
	_, err := w.Write(h[:])
	return err
}

func readHash(r io.Reader) ([32]byte, error) {
	var h [32]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return h, err
	}
	return h, nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint64(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeBigInt(w io.Writer, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	return writeBytes(w, v.Bytes())
}

func readBigInt(r io.Reader) (*big.Int, error) {
	b, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func writeBalance(w io.Writer, b chanstate.Balance) error {
	if err := writeAddress(w, b.To[0]); err != nil {
		return err
	}
	if err := writeAddress(w, b.To[1]); err != nil {
		return err
	}
	if err := writeBigInt(w, b.Amount[0]); err != nil {
		return err
	}
	return writeBigInt(w, b.Amount[1])
}

func readBalance(r io.Reader) (chanstate.Balance, error) {
	var b chanstate.Balance
	var err error
	if b.To[0], err = readAddress(r); err != nil {
		return b, err
	}
	if b.To[1], err = readAddress(r); err != nil {
		return b, err
	}
	if b.Amount[0], err = readBigInt(r); err != nil {
		return b, err
	}
	if b.Amount[1], err = readBigInt(r); err != nil {
		return b, err
	}
	return b, nil
}

func writeNetworkContext(w io.Writer, nc chanstate.NetworkContext) error {
	if err := writeBigInt(w, nc.ChainID); err != nil {
		return err
	}
	if err := writeAddress(w, nc.ChannelFactoryAddress); err != nil {
		return err
	}
	return writeAddress(w, nc.TransferRegistryAddress)
}

func readNetworkContext(r io.Reader) (chanstate.NetworkContext, error) {
	var nc chanstate.NetworkContext
	var err error
	if nc.ChainID, err = readBigInt(r); err != nil {
		return nc, err
	}
	if nc.ChannelFactoryAddress, err = readAddress(r); err != nil {
		return nc, err
	}
	if nc.TransferRegistryAddress, err = readAddress(r); err != nil {
		return nc, err
	}
	return nc, nil
}

// Tag bytes for writeValue/readValue below, the same opaque-payload codec
// chanwire uses for the wire format - duplicated here rather than imported
// to avoid a chandb->chanwire dependency (the store never needs to know
// the wire format directly, per serializeChannelState's doc comment).
const (
	tagNil byte = iota
	tagBool
	tagString
	tagUint64
	tagInt64
	tagBigInt
	tagBytes32
	tagBytes
	tagAddress
	tagMap
	tagSlice
)

func writeMetaMap(w io.Writer, m map[string]interface{}) error {
	if m == nil {
		return writeUint64(w, 0)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := writeUint64(w, uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := writeString(w, k); err != nil {
			return err
		}
		if err := writeValue(w, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func readMetaMap(r io.Reader) (map[string]interface{}, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	m := make(map[string]interface{}, n)
	for i := uint64(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readValue(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func writeValue(w io.Writer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		return writeBool(w, false)
	case bool:
		return writeTaggedValue(w, tagBool, func(w io.Writer) error { return writeBool(w, val) })
	case string:
		return writeTaggedValue(w, tagString, func(w io.Writer) error { return writeString(w, val) })
	case uint64:
		return writeTaggedValue(w, tagUint64, func(w io.Writer) error { return writeUint64(w, val) })
	case int64:
		return writeTaggedValue(w, tagInt64, func(w io.Writer) error { return writeUint64(w, uint64(val)) })
	case *big.Int:
		return writeTaggedValue(w, tagBigInt, func(w io.Writer) error { return writeBigInt(w, val) })
	case [32]byte:
		return writeTaggedValue(w, tagBytes32, func(w io.Writer) error { return writeHash(w, val) })
	case []byte:
		return writeTaggedValue(w, tagBytes, func(w io.Writer) error { return writeBytes(w, val) })
	case common.Address:
		return writeTaggedValue(w, tagAddress, func(w io.Writer) error { return writeAddress(w, val) })
	case map[string]interface{}:
		return writeTaggedValue(w, tagMap, func(w io.Writer) error { return writeMetaMap(w, val) })
	case []interface{}:
		return writeTaggedValue(w, tagSlice, func(w io.Writer) error {
			if err := writeUint64(w, uint64(len(val))); err != nil {
				return err
			}
			for _, e := range val {
				if err := writeValue(w, e); err != nil {
					return err
				}
			}
			return nil
		})
	default:
		return errors.Errorf("chandb: unsupported payload value type %T", v)
	}
}

func writeTaggedValue(w io.Writer, tag byte, write func(io.Writer) error) error {
	if err := writeBool(w, true); err != nil {
		return err
	}
	if err := writeUint8(w, tag); err != nil {
		return err
	}
	return write(w)
}

func readValue(r io.Reader) (interface{}, error) {
	present, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	tag, err := readUint8(r)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagBool:
		return readBool(r)
	case tagString:
		return readString(r)
	case tagUint64:
		return readUint64(r)
	case tagInt64:
		v, err := readUint64(r)
		return int64(v), err
	case tagBigInt:
		return readBigInt(r)
	case tagBytes32:
		return readHash(r)
	case tagBytes:
		return readBytes(r)
	case tagAddress:
		return readAddress(r)
	case tagMap:
		return readMetaMap(r)
	case tagSlice:
		n, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, n)
		for i := range out {
			if out[i], err = readValue(r); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("chandb: unknown payload value tag %d", tag)
	}
}

func writeUint8(w io.Writer, v byte) error {
	_, err := w.Write([]byte{v})
	return err
}

func readUint8(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// serializeChannelState writes c's durable fields in the teacher's
// bytes.Buffer-then-Put idiom (channeldb/nodes.go's
// serializeLinkNode/deserializeLinkNode pair). LatestUpdate is flattened by
// this package's own serializeChannelUpdate rather than encoded via
// chanwire, so the store never depends on the wire format.
func serializeChannelState(w io.Writer, c *chanstate.ChannelState) error {
	if err := writeAddress(w, c.ChannelAddress); err != nil {
		return err
	}
	if err := writeAddress(w, c.Alice); err != nil {
		return err
	}
	if err := writeAddress(w, c.Bob); err != nil {
		return err
	}
	if err := writeString(w, c.AliceIdentifier); err != nil {
		return err
	}
	if err := writeString(w, c.BobIdentifier); err != nil {
		return err
	}
	if err := writeNetworkContext(w, c.NetworkContext); err != nil {
		return err
	}
	if err := writeUint64(w, c.Nonce); err != nil {
		return err
	}

	if err := writeUint64(w, uint64(len(c.AssetIds))); err != nil {
		return err
	}
	for i, assetID := range c.AssetIds {
		if err := writeAddress(w, assetID); err != nil {
			return err
		}
		if err := writeBalance(w, c.Balances[i]); err != nil {
			return err
		}
		if err := writeBigInt(w, c.ProcessedDepositsA[i]); err != nil {
			return err
		}
		if err := writeBigInt(w, c.ProcessedDepositsB[i]); err != nil {
			return err
		}
		if err := writeUint64(w, c.DefundNonces[i]); err != nil {
			return err
		}
	}

	if err := writeHash(w, c.MerkleRoot); err != nil {
		return err
	}
	if err := writeUint64(w, c.Timeout); err != nil {
		return err
	}
	if err := writeBool(w, c.InDispute); err != nil {
		return err
	}

	hasLatest := c.LatestUpdate != nil
	if err := writeBool(w, hasLatest); err != nil {
		return err
	}
	if hasLatest {
		return serializeChannelUpdate(w, c.LatestUpdate)
	}
	return nil
}

func deserializeChannelState(r io.Reader) (*chanstate.ChannelState, error) {
	c := &chanstate.ChannelState{}
	var err error

	if c.ChannelAddress, err = readAddress(r); err != nil {
		return nil, err
	}
	if c.Alice, err = readAddress(r); err != nil {
		return nil, err
	}
	if c.Bob, err = readAddress(r); err != nil {
		return nil, err
	}
	if c.AliceIdentifier, err = readString(r); err != nil {
		return nil, err
	}
	if c.BobIdentifier, err = readString(r); err != nil {
		return nil, err
	}
	if c.NetworkContext, err = readNetworkContext(r); err != nil {
		return nil, err
	}
	if c.Nonce, err = readUint64(r); err != nil {
		return nil, err
	}

	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	c.AssetIds = make([]common.Address, n)
	c.Balances = make([]chanstate.Balance, n)
	c.ProcessedDepositsA = make([]*big.Int, n)
	c.ProcessedDepositsB = make([]*big.Int, n)
	c.DefundNonces = make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		if c.AssetIds[i], err = readAddress(r); err != nil {
			return nil, err
		}
		if c.Balances[i], err = readBalance(r); err != nil {
			return nil, err
		}
		if c.ProcessedDepositsA[i], err = readBigInt(r); err != nil {
			return nil, err
		}
		if c.ProcessedDepositsB[i], err = readBigInt(r); err != nil {
			return nil, err
		}
		if c.DefundNonces[i], err = readUint64(r); err != nil {
			return nil, err
		}
	}

	if c.MerkleRoot, err = readHash(r); err != nil {
		return nil, err
	}
	if c.Timeout, err = readUint64(r); err != nil {
		return nil, err
	}
	if c.InDispute, err = readBool(r); err != nil {
		return nil, err
	}

	hasLatest, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if hasLatest {
		c.LatestUpdate, err = deserializeChannelUpdate(r)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

// serializeChannelUpdate encodes only the fields the store needs to persist
// as part of ChannelState.LatestUpdate. The opaque Details payload is
// encoded via its constituent type tag plus a schema-keyed map so no
// dynamic-typing trick is required on read-back.
func serializeChannelUpdate(w io.Writer, u *chanstate.ChannelUpdate) error {
	if err := writeAddress(w, u.ChannelAddress); err != nil {
		return err
	}
	if err := writeString(w, u.FromIdentifier); err != nil {
		return err
	}
	if err := writeString(w, u.ToIdentifier); err != nil {
		return err
	}
	if err := writeString(w, string(u.Type)); err != nil {
		return err
	}
	if err := writeUint64(w, u.Nonce); err != nil {
		return err
	}
	if err := writeBalance(w, u.Balance); err != nil {
		return err
	}
	if err := writeAddress(w, u.AssetID); err != nil {
		return err
	}
	if err := writeBytes(w, u.AliceSignature); err != nil {
		return err
	}
	if err := writeBytes(w, u.BobSignature); err != nil {
		return err
	}
	return writeDetails(w, u.Details)
}

func deserializeChannelUpdate(r io.Reader) (*chanstate.ChannelUpdate, error) {
	u := &chanstate.ChannelUpdate{}
	var err error

	if u.ChannelAddress, err = readAddress(r); err != nil {
		return nil, err
	}
	if u.FromIdentifier, err = readString(r); err != nil {
		return nil, err
	}
	if u.ToIdentifier, err = readString(r); err != nil {
		return nil, err
	}
	typ, err := readString(r)
	if err != nil {
		return nil, err
	}
	u.Type = chanstate.UpdateType(typ)
	if u.Nonce, err = readUint64(r); err != nil {
		return nil, err
	}
	if u.Balance, err = readBalance(r); err != nil {
		return nil, err
	}
	if u.AssetID, err = readAddress(r); err != nil {
		return nil, err
	}
	if u.AliceSignature, err = readBytes(r); err != nil {
		return nil, err
	}
	if u.BobSignature, err = readBytes(r); err != nil {
		return nil, err
	}
	u.Details, err = readDetails(r, u.Type)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// writeDetails/readDetails encode ChannelUpdate.Details as a tagged variant
// (spec §9 redesign guidance), re-using the type already known from
// u.Type rather than writing a second tag byte.
func writeDetails(w io.Writer, details chanstate.UpdateDetails) error {
	switch d := details.(type) {
	case chanstate.SetupDetails:
		if err := writeNetworkContext(w, d.NetworkContext); err != nil {
			return err
		}
		if err := writeUint64(w, d.Timeout); err != nil {
			return err
		}
		return writeMetaMap(w, d.Meta)
	case chanstate.DepositDetails:
		if err := writeBigInt(w, d.TotalDepositsAlice); err != nil {
			return err
		}
		if err := writeBigInt(w, d.TotalDepositsBob); err != nil {
			return err
		}
		return writeMetaMap(w, d.Meta)
	case chanstate.CreateDetails:
		if err := writeHash(w, d.TransferID); err != nil {
			return err
		}
		if err := writeBalance(w, d.Balance); err != nil {
			return err
		}
		if err := writeAddress(w, d.TransferDefinition); err != nil {
			return err
		}
		if err := writeUint64(w, d.TransferTimeout); err != nil {
			return err
		}
		if err := writeString(w, d.TransferEncodings[0]); err != nil {
			return err
		}
		if err := writeString(w, d.TransferEncodings[1]); err != nil {
			return err
		}
		if err := writeMetaMap(w, (map[string]interface{})(d.TransferInitialState)); err != nil {
			return err
		}
		if err := writeHash(w, d.MerkleRoot); err != nil {
			return err
		}
		return writeMetaMap(w, d.Meta)
	case chanstate.ResolveDetails:
		if err := writeHash(w, d.TransferID); err != nil {
			return err
		}
		if err := writeAddress(w, d.TransferDefinition); err != nil {
			return err
		}
		if err := writeMetaMap(w, (map[string]interface{})(d.TransferResolver)); err != nil {
			return err
		}
		if err := writeHash(w, d.MerkleRoot); err != nil {
			return err
		}
		return writeMetaMap(w, d.Meta)
	default:
		return errors.Errorf("chandb: unknown update details type %T", details)
	}
}

func readDetails(r io.Reader, typ chanstate.UpdateType) (chanstate.UpdateDetails, error) {
	switch typ {
	case chanstate.UpdateSetup:
		nc, err := readNetworkContext(r)
		if err != nil {
			return nil, err
		}
		timeout, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		meta, err := readMetaMap(r)
		if err != nil {
			return nil, err
		}
		return chanstate.SetupDetails{NetworkContext: nc, Timeout: timeout, Meta: meta}, nil
	case chanstate.UpdateDeposit:
		a, err := readBigInt(r)
		if err != nil {
			return nil, err
		}
		b, err := readBigInt(r)
		if err != nil {
			return nil, err
		}
		meta, err := readMetaMap(r)
		if err != nil {
			return nil, err
		}
		return chanstate.DepositDetails{TotalDepositsAlice: a, TotalDepositsBob: b, Meta: meta}, nil
	case chanstate.UpdateCreate:
		id, err := readHash(r)
		if err != nil {
			return nil, err
		}
		bal, err := readBalance(r)
		if err != nil {
			return nil, err
		}
		def, err := readAddress(r)
		if err != nil {
			return nil, err
		}
		timeout, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		var encodings [2]string
		if encodings[0], err = readString(r); err != nil {
			return nil, err
		}
		if encodings[1], err = readString(r); err != nil {
			return nil, err
		}
		initialState, err := readMetaMap(r)
		if err != nil {
			return nil, err
		}
		root, err := readHash(r)
		if err != nil {
			return nil, err
		}
		meta, err := readMetaMap(r)
		if err != nil {
			return nil, err
		}
		return chanstate.CreateDetails{
			TransferID: id, Balance: bal, TransferDefinition: def,
			TransferTimeout:      timeout,
			TransferEncodings:    encodings,
			TransferInitialState: chanstate.TransferState(initialState),
			MerkleRoot:           root,
			Meta:                 meta,
		}, nil
	case chanstate.UpdateResolve:
		id, err := readHash(r)
		if err != nil {
			return nil, err
		}
		def, err := readAddress(r)
		if err != nil {
			return nil, err
		}
		resolver, err := readMetaMap(r)
		if err != nil {
			return nil, err
		}
		root, err := readHash(r)
		if err != nil {
			return nil, err
		}
		meta, err := readMetaMap(r)
		if err != nil {
			return nil, err
		}
		return chanstate.ResolveDetails{
			TransferID: id, TransferDefinition: def,
			TransferResolver: chanstate.TransferResolver(resolver),
			MerkleRoot:        root,
			Meta:              meta,
		}, nil
	default:
		return nil, errors.Errorf("chandb: unknown update type %q", typ)
	}
}

func serializeTransfer(w io.Writer, t *chanstate.Transfer) error {
	if err := writeHash(w, t.TransferID); err != nil {
		return err
	}
	if err := writeAddress(w, t.ChannelAddress); err != nil {
		return err
	}
	if err := writeBigInt(w, t.ChainID); err != nil {
		return err
	}
	if err := writeAddress(w, t.ChannelFactoryAddress); err != nil {
		return err
	}
	if err := writeAddress(w, t.Initiator); err != nil {
		return err
	}
	if err := writeAddress(w, t.Responder); err != nil {
		return err
	}
	if err := writeUint64(w, t.ChannelNonce); err != nil {
		return err
	}
	if err := writeAddress(w, t.TransferDefinition); err != nil {
		return err
	}
	if err := writeString(w, t.TransferEncodings[0]); err != nil {
		return err
	}
	if err := writeString(w, t.TransferEncodings[1]); err != nil {
		return err
	}
	if err := writeBalance(w, t.Balance); err != nil {
		return err
	}
	if err := writeAddress(w, t.AssetID); err != nil {
		return err
	}
	if err := writeUint64(w, t.TransferTimeout); err != nil {
		return err
	}
	if err := writeHash(w, t.InitialStateHash); err != nil {
		return err
	}
	if err := writeBool(w, t.InDispute); err != nil {
		return err
	}
	if err := writeMetaMap(w, (map[string]interface{})(t.TransferState)); err != nil {
		return err
	}
	if err := writeMetaMap(w, t.Meta); err != nil {
		return err
	}
	resolved := t.TransferResolver != nil
	if err := writeBool(w, resolved); err != nil {
		return err
	}
	if resolved {
		return writeMetaMap(w, (map[string]interface{})(t.TransferResolver))
	}
	return nil
}

func deserializeTransfer(r io.Reader) (*chanstate.Transfer, error) {
	t := &chanstate.Transfer{}
	var err error

	if t.TransferID, err = readHash(r); err != nil {
		return nil, err
	}
	if t.ChannelAddress, err = readAddress(r); err != nil {
		return nil, err
	}
	if t.ChainID, err = readBigInt(r); err != nil {
		return nil, err
	}
	if t.ChannelFactoryAddress, err = readAddress(r); err != nil {
		return nil, err
	}
	if t.Initiator, err = readAddress(r); err != nil {
		return nil, err
	}
	if t.Responder, err = readAddress(r); err != nil {
		return nil, err
	}
	if t.ChannelNonce, err = readUint64(r); err != nil {
		return nil, err
	}
	if t.TransferDefinition, err = readAddress(r); err != nil {
		return nil, err
	}
	if t.TransferEncodings[0], err = readString(r); err != nil {
		return nil, err
	}
	if t.TransferEncodings[1], err = readString(r); err != nil {
		return nil, err
	}
	if t.Balance, err = readBalance(r); err != nil {
		return nil, err
	}
	if t.AssetID, err = readAddress(r); err != nil {
		return nil, err
	}
	if t.TransferTimeout, err = readUint64(r); err != nil {
		return nil, err
	}
	if t.InitialStateHash, err = readHash(r); err != nil {
		return nil, err
	}
	if t.InDispute, err = readBool(r); err != nil {
		return nil, err
	}
	transferState, err := readMetaMap(r)
	if err != nil {
		return nil, err
	}
	t.TransferState = chanstate.TransferState(transferState)
	if t.Meta, err = readMetaMap(r); err != nil {
		return nil, err
	}
	resolved, err := readBool(r)
	if err != nil {
		return nil, err
	}
	if resolved {
		resolver, err := readMetaMap(r)
		if err != nil {
			return nil, err
		}
		t.TransferResolver = chanstate.TransferResolver(resolver)
		if t.TransferResolver == nil {
			t.TransferResolver = chanstate.TransferResolver{}
		}
	}
	return t, nil
}

func serializeWithdrawCommitment(w io.Writer, c *chanvalidator.WithdrawCommitment) error {
	if err := writeAddress(w, c.ChannelAddress); err != nil {
		return err
	}
	if err := writeAddress(w, c.Alice); err != nil {
		return err
	}
	if err := writeAddress(w, c.Bob); err != nil {
		return err
	}
	if err := writeAddress(w, c.Recipient); err != nil {
		return err
	}
	if err := writeAddress(w, c.AssetID); err != nil {
		return err
	}
	if err := writeBigInt(w, c.Amount); err != nil {
		return err
	}
	if err := writeUint64(w, c.Nonce); err != nil {
		return err
	}
	if err := writeAddress(w, c.CallTo); err != nil {
		return err
	}
	if err := writeBytes(w, c.CallData); err != nil {
		return err
	}
	if err := writeBytes(w, c.AliceSignature); err != nil {
		return err
	}
	return writeBytes(w, c.BobSignature)
}

func deserializeWithdrawCommitment(r io.Reader) (*chanvalidator.WithdrawCommitment, error) {
	c := &chanvalidator.WithdrawCommitment{}
	var err error

	if c.ChannelAddress, err = readAddress(r); err != nil {
		return nil, err
	}
	if c.Alice, err = readAddress(r); err != nil {
		return nil, err
	}
	if c.Bob, err = readAddress(r); err != nil {
		return nil, err
	}
	if c.Recipient, err = readAddress(r); err != nil {
		return nil, err
	}
	if c.AssetID, err = readAddress(r); err != nil {
		return nil, err
	}
	if c.Amount, err = readBigInt(r); err != nil {
		return nil, err
	}
	if c.Nonce, err = readUint64(r); err != nil {
		return nil, err
	}
	if c.CallTo, err = readAddress(r); err != nil {
		return nil, err
	}
	if c.CallData, err = readBytes(r); err != nil {
		return nil, err
	}
	if c.AliceSignature, err = readBytes(r); err != nil {
		return nil, err
	}
	if c.BobSignature, err = readBytes(r); err != nil {
		return nil, err
	}
	return c, nil
}

func encodeChannelState(c *chanstate.ChannelState) ([]byte, error) {
	var buf bytes.Buffer
	if err := serializeChannelState(&buf, c); err != nil {
		return nil, errors.WithMessage(err, "serializing channel state")
	}
	return buf.Bytes(), nil
}

func decodeChannelState(b []byte) (*chanstate.ChannelState, error) {
	return deserializeChannelState(bytes.NewReader(b))
}

func encodeTransfer(t *chanstate.Transfer) ([]byte, error) {
	var buf bytes.Buffer
	if err := serializeTransfer(&buf, t); err != nil {
		return nil, errors.WithMessage(err, "serializing transfer")
	}
	return buf.Bytes(), nil
}

func decodeTransfer(b []byte) (*chanstate.Transfer, error) {
	return deserializeTransfer(bytes.NewReader(b))
}

func encodeWithdrawCommitment(c *chanvalidator.WithdrawCommitment) ([]byte, error) {
	var buf bytes.Buffer
	if err := serializeWithdrawCommitment(&buf, c); err != nil {
		return nil, errors.WithMessage(err, "serializing withdraw commitment")
	}
	return buf.Bytes(), nil
}

func decodeWithdrawCommitment(b []byte) (*chanvalidator.WithdrawCommitment, error) {
	return deserializeWithdrawCommitment(bytes.NewReader(b))
}
