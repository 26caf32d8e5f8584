package utils

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	ErrUnexpectedEOF = errors.New("unexpected EOF while reading binary data")
	ErrInvalidLength = errors.New("invalid negative length encountered")
)

// ByteCursor reads little endian values. The first failure is sticky: later
// reads return zero values and Err keeps the original error.
type ByteCursor struct {
	Data []byte
	Off  int
	Err  error
}

func NewByteCursor(data []byte) *ByteCursor {
	return &ByteCursor{Data: data}
}

func (c *ByteCursor) HasMore() bool {
	return c.Err == nil && c.Off < len(c.Data)
}

func (c *ByteCursor) need(n int) bool {
	if c.Err != nil {
		return false
	}
	if c.Off+n > len(c.Data) {
		c.Err = ErrUnexpectedEOF
		return false
	}
	return true
}

func (c *ByteCursor) ReadUint8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.Data[c.Off]
	c.Off++
	return v
}

func (c *ByteCursor) ReadUint32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.Data[c.Off:])
	c.Off += 4
	return v
}

func (c *ByteCursor) ReadUint64() uint64 {
	if !c.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(c.Data[c.Off:])
	c.Off += 8
	return v
}

func (c *ByteCursor) ReadInt32() int32 {
	return int32(c.ReadUint32())
}

func (c *ByteCursor) ReadInt64() int64 {
	return int64(c.ReadUint64())
}

func (c *ByteCursor) ReadFloat32() float32 {
	return math.Float32frombits(c.ReadUint32())
}

func (c *ByteCursor) ReadFloat64() float64 {
	return math.Float64frombits(c.ReadUint64())
}

func (c *ByteCursor) ReadBool() bool {
	return c.ReadUint8() == 1
}

func (c *ByteCursor) ReadBytes(n int) []byte {
	if c.Err != nil {
		return nil
	}
	if n == 0 {
		return []byte{}
	}
	if n < 0 {
		c.Err = ErrInvalidLength
		return nil
	}
	if c.Off+n > len(c.Data) {
		c.Err = ErrUnexpectedEOF
		return nil
	}
	v := c.Data[c.Off : c.Off+n]
	c.Off += n
	return v
}

func (c *ByteCursor) ReadString() string {
	l := int(c.ReadUint32())
	if c.Err != nil {
		return ""
	}
	return string(c.ReadBytes(l))
}

// ByteWriter is the encoding counterpart of ByteCursor.
type ByteWriter struct {
	buf []byte
}

func NewByteWriter(capacity int) *ByteWriter {
	return &ByteWriter{buf: make([]byte, 0, capacity)}
}

func (w *ByteWriter) Bytes() []byte {
	return w.buf
}

func (w *ByteWriter) WriteUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *ByteWriter) WriteUint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *ByteWriter) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *ByteWriter) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

func (w *ByteWriter) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

func (w *ByteWriter) WriteFloat32(v float32) {
	w.WriteUint32(math.Float32bits(v))
}

func (w *ByteWriter) WriteFloat64(v float64) {
	w.WriteUint64(math.Float64bits(v))
}

func (w *ByteWriter) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

func (w *ByteWriter) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}
