package utils

import (
	"encoding/binary"
	"fmt"
	"io"
)

type BinaryStream struct {
	BaseStream io.ReadSeeker
	Endian     binary.ByteOrder
}

func NewBinaryStream(baseStream io.ReadSeeker, endian string) *BinaryStream {
	return &BinaryStream{
		BaseStream: baseStream,
		Endian:     byteOrder(endian),
	}
}

func byteOrder(endian string) binary.ByteOrder {
	if endian == "big" {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (bs *BinaryStream) ReadBytes(length int) ([]byte, error) {
	buf := make([]byte, length)
	_, err := io.ReadFull(bs.BaseStream, buf)
	return buf, err
}

func (bs *BinaryStream) ReadUInt16() (uint16, error) {
	buf := make([]byte, 2)
	_, err := io.ReadFull(bs.BaseStream, buf)
	return bs.Endian.Uint16(buf), err
}

func (bs *BinaryStream) ReadUInt32() (uint32, error) {
	buf := make([]byte, 4)
	_, err := io.ReadFull(bs.BaseStream, buf)
	return bs.Endian.Uint32(buf), err
}

// ReadFourCC reads a four character chunk id.
func (bs *BinaryStream) ReadFourCC() (string, error) {
	buf, err := bs.ReadBytes(4)
	return string(buf), err
}

func (bs *BinaryStream) Position() (int64, error) {
	return bs.BaseStream.Seek(0, io.SeekCurrent)
}

func (bs *BinaryStream) Skip(length int64) error {
	_, err := bs.BaseStream.Seek(length, io.SeekCurrent)
	return err
}

func (bs *BinaryStream) AlignStream(alignment int64) error {
	pos, err := bs.Position()
	if err != nil {
		return err
	}
	if pos%alignment != 0 {
		return bs.Skip(alignment - pos%alignment)
	}
	return nil
}

// BinaryWriter is the write side of BinaryStream. The first error sticks
// and is returned by Err.
type BinaryWriter struct {
	Writer io.Writer
	Endian binary.ByteOrder

	buf [4]byte
	err error
}

func NewBinaryWriter(w io.Writer, endian string) *BinaryWriter {
	return &BinaryWriter{Writer: w, Endian: byteOrder(endian)}
}

func (bw *BinaryWriter) WriteBytes(value []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.Writer.Write(value)
}

func (bw *BinaryWriter) WriteFourCC(id string) {
	if len(id) != 4 && bw.err == nil {
		bw.err = fmt.Errorf("chunk id %q is not four bytes", id)
		return
	}
	bw.WriteBytes([]byte(id))
}

func (bw *BinaryWriter) WriteUInt16(v uint16) {
	bw.Endian.PutUint16(bw.buf[:2], v)
	bw.WriteBytes(bw.buf[:2])
}

func (bw *BinaryWriter) WriteUInt32(v uint32) {
	bw.Endian.PutUint32(bw.buf[:4], v)
	bw.WriteBytes(bw.buf[:4])
}

func (bw *BinaryWriter) Err() error {
	return bw.err
}
