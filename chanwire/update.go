package chanwire

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chanstate"
)

var byteOrder = binary.BigEndian

// EncodeUpdate serializes a ChannelUpdate for the wire, the payload of both
// ProtocolUpdate and ProtocolUpdateAck.
func EncodeUpdate(w io.Writer, u *chanstate.ChannelUpdate) error {
	if u == nil {
		return writeBool(w, false)
	}
	if err := writeBool(w, true); err != nil {
		return err
	}

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
	return writeUpdateDetails(w, u.Details)
}

// DecodeUpdate deserializes a ChannelUpdate from the wire. *out is nil if
// the peer sent no update (e.g. a fresh channel's PreviousUpdate).
func DecodeUpdate(r io.Reader, out **chanstate.ChannelUpdate) error {
	present, err := readBool(r)
	if err != nil {
		return err
	}
	if !present {
		*out = nil
		return nil
	}

	u := &chanstate.ChannelUpdate{}
	if u.ChannelAddress, err = readAddress(r); err != nil {
		return err
	}
	if u.FromIdentifier, err = readString(r); err != nil {
		return err
	}
	if u.ToIdentifier, err = readString(r); err != nil {
		return err
	}
	typ, err := readString(r)
	if err != nil {
		return err
	}
	u.Type = chanstate.UpdateType(typ)
	if u.Nonce, err = readUint64(r); err != nil {
		return err
	}
	if u.Balance, err = readBalance(r); err != nil {
		return err
	}
	if u.AssetID, err = readAddress(r); err != nil {
		return err
	}
	if u.AliceSignature, err = readBytes(r); err != nil {
		return err
	}
	if u.BobSignature, err = readBytes(r); err != nil {
		return err
	}
	u.Details, err = readUpdateDetails(r, u.Type)
	if err != nil {
		return err
	}

	*out = u
	return nil
}

func writeUpdateDetails(w io.Writer, details chanstate.UpdateDetails) error {
	switch d := details.(type) {
	case chanstate.SetupDetails:
		if err := writeBigInt(w, d.NetworkContext.ChainID); err != nil {
			return err
		}
		if err := writeAddress(w, d.NetworkContext.ChannelFactoryAddress); err != nil {
			return err
		}
		if err := writeAddress(w, d.NetworkContext.TransferRegistryAddress); err != nil {
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
		return errors.Errorf("chanwire: unknown update details type %T", details)
	}
}

func readUpdateDetails(r io.Reader, typ chanstate.UpdateType) (chanstate.UpdateDetails, error) {
	switch typ {
	case chanstate.UpdateSetup:
		chainID, err := readBigInt(r)
		if err != nil {
			return nil, err
		}
		factory, err := readAddress(r)
		if err != nil {
			return nil, err
		}
		registry, err := readAddress(r)
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
		return chanstate.SetupDetails{
			NetworkContext: chanstate.NetworkContext{
				ChainID: chainID, ChannelFactoryAddress: factory, TransferRegistryAddress: registry,
			},
			Timeout: timeout,
			Meta:    meta,
		}, nil
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
		return nil, errors.Errorf("chanwire: unknown update type %q", typ)
	}
}

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

// Tag bytes for writeValue/readValue, the opaque-payload codec used for
// TransferInitialState, TransferResolver, and every UpdateDetails.Meta.
// The field names a payload carries are schema-defined by the transfer's
// TransferEncodings, not by this codec, so values travel tagged by their
// own concrete Go type rather than a fixed struct shape.
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
		return errors.Errorf("chanwire: unsupported payload value type %T", v)
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
		return nil, errors.Errorf("chanwire: unknown payload value tag %d", tag)
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

// EncodeToBytes is a convenience wrapper used by transports that want a
// single []byte rather than streaming to an io.Writer.
func EncodeToBytes(u *chanstate.ChannelUpdate) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeUpdate(&buf, u); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFromBytes is the inverse of EncodeToBytes.
func DecodeFromBytes(b []byte) (*chanstate.ChannelUpdate, error) {
	var u *chanstate.ChannelUpdate
	if err := DecodeUpdate(bytes.NewReader(b), &u); err != nil {
		return nil, err
	}
	return u, nil
}
