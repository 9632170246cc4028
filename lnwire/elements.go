package lnwire

// code derived from https://github.com/btcsuite/btcd/blob/master/wire/common.go

import (
	"encoding/binary"
	"fmt"
	"io"
)

// readElement reads a single canonical lnwire field from r into element,
// dispatching on the concrete type of element the way btcd's wire codec
// dispatches on message field types.
func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = b[0]
	case *uint16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint16(b[:])
	case *uint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint32(b[:])
	case *uint64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = binary.BigEndian.Uint64(b[:])
	case *bool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		*e = b[0] != 0
	case []byte:
		if _, err := io.ReadFull(r, e); err != nil {
			return err
		}
	case *ChannelID:
		return readElement(r, (*uint64)(e))
	case *MessageType:
		return readElement(r, (*uint16)(e))
	default:
		return fmt.Errorf("unknown type in readElement: %T", e)
	}

	return nil
}

func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		if err := readElement(r, element); err != nil {
			return err
		}
	}
	return nil
}

// writeElement writes a single canonical lnwire field to w.
func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint8:
		if _, err := w.Write([]byte{e}); err != nil {
			return err
		}
	case uint16:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], e)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case uint32:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], e)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case uint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], e)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case bool:
		var b [1]byte
		if e {
			b[0] = 1
		}
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	case []byte:
		if _, err := w.Write(e); err != nil {
			return err
		}
	case ChannelID:
		return writeElement(w, uint64(e))
	case MessageType:
		return writeElement(w, uint16(e))
	default:
		return fmt.Errorf("unknown type in writeElement: %T", e)
	}

	return nil
}

// writeVarBytes writes a length-prefixed byte slice, used for the few
// fields (routing blobs, opaque error reasons, scripts) whose length isn't
// fixed by the protocol.
func writeVarBytes(w io.Writer, b []byte) error {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(b)))
	if _, err := w.Write(lenBytes[:]); err != nil {
		return err
	}
	if len(b) > 0 {
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// readVarBytes reads a length-prefixed byte slice written by writeVarBytes.
func readVarBytes(r io.Reader) ([]byte, error) {
	var lenBytes [4]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBytes[:])
	if n > MaxMessagePayload {
		return nil, fmt.Errorf("var byte slice too long: %d", n)
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		if err := writeElement(w, element); err != nil {
			return err
		}
	}
	return nil
}
