package chanwire

import (
	"io"

	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// WriteElements serializes a sequence of supported element types to w, in
// the manner of dcrlnd's lnwire.WriteElements: callers pass values in
// argument order and this function dispatches on concrete type rather than
// requiring every message to hand-roll its own Encode body element by
// element.
func WriteElements(w io.Writer, elements ...interface{}) error {
	for _, el := range elements {
		if err := writeElement(w, el); err != nil {
			return err
		}
	}
	return nil
}

func writeElement(w io.Writer, el interface{}) error {
	switch v := el.(type) {
	case []byte:
		_, err := w.Write(v)
		return err
	case string:
		return writeString(w, v)
	case *chanstate.ChannelUpdate:
		return EncodeUpdate(w, v)
	default:
		return errors.Errorf("chanwire: unsupported element type %T", el)
	}
}

// ReadElements is the inverse of WriteElements: each element must be passed
// as a pointer (or, for fixed-size raw buffers, the backing []byte slice
// itself) so this function can populate it in place.
func ReadElements(r io.Reader, elements ...interface{}) error {
	for _, el := range elements {
		if err := readElement(r, el); err != nil {
			return err
		}
	}
	return nil
}

func readElement(r io.Reader, el interface{}) error {
	switch v := el.(type) {
	case []byte:
		_, err := io.ReadFull(r, v)
		return err
	case *string:
		s, err := readString(r)
		if err != nil {
			return err
		}
		*v = s
		return nil
	case **chanstate.ChannelUpdate:
		return DecodeUpdate(r, v)
	default:
		return errors.Errorf("chanwire: unsupported element type %T", el)
	}
}
