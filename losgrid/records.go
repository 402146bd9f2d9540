package losgrid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// RecordSize is the packed size in bytes of one persisted grid node.
const RecordSize = 5 * 4

// Record is the persisted layout of a grid node: LOS unit vector followed by
// map X (longitude) and map Y (latitude), packed little-endian float32.
type Record struct {
	LosX, LosY, LosZ float32
	MapX, MapY       float32
}

func recordFromNode(n *Node) Record {
	return Record{
		LosX: float32(n.Los.X),
		LosY: float32(n.Los.Y),
		LosZ: float32(n.Los.Z),
		MapX: float32(n.MapX),
		MapY: float32(n.MapY),
	}
}

// WriteRecords writes records in the packed layout.
func WriteRecords(w io.Writer, records []Record) error {
	if err := binary.Write(w, binary.LittleEndian, records); err != nil {
		return fmt.Errorf("write %d grid records: %w", len(records), err)
	}
	return nil
}

// ReadRecords reads exactly n packed records.
func ReadRecords(r io.Reader, n int) ([]Record, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative record count %d", ErrSampleSize, n)
	}
	records := make([]Record, n)
	if err := binary.Read(r, binary.LittleEndian, records); err != nil {
		return nil, fmt.Errorf("read %d grid records: %w", n, err)
	}
	return records, nil
}

// MarshalRecords returns the packed bytes of records.
func MarshalRecords(records []Record) []byte {
	var buf bytes.Buffer
	buf.Grow(len(records) * RecordSize)
	// bytes.Buffer writes cannot fail.
	_ = WriteRecords(&buf, records)
	return buf.Bytes()
}

// UnmarshalRecords decodes a packed record blob.
func UnmarshalRecords(b []byte) ([]Record, error) {
	if len(b)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrSampleSize, len(b), RecordSize)
	}
	return ReadRecords(bytes.NewReader(b), len(b)/RecordSize)
}
