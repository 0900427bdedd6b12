package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/http"
)

// schemaVersion is written as the first byte of every encoded Record so a
// future field addition can be decoded unambiguously (spec §9: "a portable
// implementation must choose a stable binary record format ... record a
// schema version byte for forward compatibility"). This replaces the
// source project's language-specific pickle.
const schemaVersion byte = 1

// Record is the logical cache record: everything needed to reconstruct a
// stored response, plus the timestamp expiration is computed from.
type Record struct {
	Status   int
	URL      string
	Header   http.Header
	Body     []byte
	StoredAt int64 // epoch seconds
}

// Encode serialises r into the stable, length-prefixed binary format
// described in DESIGN.md. The format is intentionally simple (big-endian
// length-prefixed fields) rather than a general-purpose codec, because the
// record shape is fixed and known at both ends.
func Encode(r Record) []byte {
	var buf bytes.Buffer
	buf.WriteByte(schemaVersion)

	var num [8]byte
	binary.BigEndian.PutUint32(num[:4], uint32(r.Status))
	buf.Write(num[:4])
	binary.BigEndian.PutUint64(num[:8], uint64(r.StoredAt))
	buf.Write(num[:8])

	writeString(&buf, r.URL)

	binary.BigEndian.PutUint32(num[:4], uint32(len(r.Header)))
	buf.Write(num[:4])
	for name, values := range r.Header {
		writeString(&buf, name)
		binary.BigEndian.PutUint32(num[:4], uint32(len(values)))
		buf.Write(num[:4])
		for _, v := range values {
			writeString(&buf, v)
		}
	}

	writeBytes(&buf, r.Body)

	return buf.Bytes()
}

// Decode is the inverse of Encode. A version byte it does not recognise,
// or a truncated buffer, yields ErrDecodeFailure.
func Decode(data []byte) (Record, error) {
	r := Record{}
	buf := bytes.NewReader(data)

	version, err := buf.ReadByte()
	if err != nil {
		return r, fmt.Errorf("reading schema version: %w", ErrDecodeFailure)
	}
	if version != schemaVersion {
		return r, fmt.Errorf("unsupported record schema version %d: %w", version, ErrDecodeFailure)
	}

	status, err := readUint32(buf)
	if err != nil {
		return r, fmt.Errorf("reading status: %w", ErrDecodeFailure)
	}
	r.Status = int(status)

	storedAt, err := readUint64(buf)
	if err != nil {
		return r, fmt.Errorf("reading stored-at: %w", ErrDecodeFailure)
	}
	r.StoredAt = int64(storedAt)

	url, err := readString(buf)
	if err != nil {
		return r, fmt.Errorf("reading url: %w", ErrDecodeFailure)
	}
	r.URL = url

	headerCount, err := readUint32(buf)
	if err != nil {
		return r, fmt.Errorf("reading header count: %w", ErrDecodeFailure)
	}
	r.Header = make(http.Header, headerCount)
	for i := uint32(0); i < headerCount; i++ {
		name, err := readString(buf)
		if err != nil {
			return r, fmt.Errorf("reading header name: %w", ErrDecodeFailure)
		}
		valueCount, err := readUint32(buf)
		if err != nil {
			return r, fmt.Errorf("reading header value count: %w", ErrDecodeFailure)
		}
		values := make([]string, 0, valueCount)
		for j := uint32(0); j < valueCount; j++ {
			v, err := readString(buf)
			if err != nil {
				return r, fmt.Errorf("reading header value: %w", ErrDecodeFailure)
			}
			values = append(values, v)
		}
		r.Header[name] = values
	}

	body, err := readBytes(buf)
	if err != nil {
		return r, fmt.Errorf("reading body: %w", ErrDecodeFailure)
	}
	r.Body = body

	return r, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	var num [4]byte
	binary.BigEndian.PutUint32(num[:], uint32(len(b)))
	buf.Write(num[:])
	buf.Write(b)
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err == nil && n < len(b) {
		more, err2 := r.Read(b[n:])
		n += more
		if err2 != nil {
			return n, err2
		}
	}
	if n < len(b) {
		return n, fmt.Errorf("short read: want %d got %d", len(b), n)
	}
	return n, err
}
