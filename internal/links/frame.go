package links

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Every exchange on a Links channel is wrapped in a small
// self-delimiting frame so a single reader goroutine per connection
// can demultiplex typed control messages from raw object-body chunks
// without the two ever being ambiguous on the wire. Grounded on the
// gRPC shared-memory transport's frame header (type + length).
type frameType uint8

const (
	frameTyped frameType = 1
	frameRaw   frameType = 2
)

const frameHeaderSize = 1 + 4 // type + big-endian uint32 length

func writeFrame(w io.Writer, t frameType, payload []byte) error {
	hdr := make([]byte, frameHeaderSize)
	hdr[0] = byte(t)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr); err != nil {
		return errors.Wrap(err, "links: writing frame header")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "links: writing frame payload")
	}
	return nil
}

func readFrame(r io.Reader) (frameType, []byte, error) {
	hdr := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return 0, nil, err
	}
	t := frameType(hdr[0])
	n := binary.BigEndian.Uint32(hdr[1:])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, errors.Wrap(err, "links: reading frame payload")
		}
	}
	return t, payload, nil
}
