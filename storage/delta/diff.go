// Package delta implements the per-host binary delta encoding described
// in §4.5: a source body is stored verbatim, and similar target bodies
// are stored as a COPY/INSERT instruction stream against that source.
//
// No bsdiff/xdelta-class library is present anywhere in the retrieved
// example corpus (see DESIGN.md), so the codec below is hand-rolled: a
// block-hash index over the source body anchors COPY spans in the
// target, with any unmatched target bytes falling back to INSERT
// literals. Correctness of decode(encode(target, source), source) ==
// target never depends on match quality — a target with no similarity
// to its source simply encodes as one large INSERT.
package delta

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// blockSize is the granularity at which the source index anchors
// matches. Smaller values catch shorter common spans at the cost of a
// larger index and more collision checks.
const blockSize = 16

const (
	opCopy   byte = 1
	opInsert byte = 2
)

// Encode produces a delta that decode(delta, source) turns back into
// target.
func Encode(source, target []byte) []byte {
	index := buildIndex(source)

	var buf bytes.Buffer
	var literal []byte

	flushLiteral := func() {
		if len(literal) == 0 {
			return
		}
		writeOp(&buf, opInsert, 0, literal)
		literal = nil
	}

	i := 0
	for i < len(target) {
		offset, length := bestMatch(source, target, index, i)
		if length < blockSize {
			literal = append(literal, target[i])
			i++
			continue
		}
		flushLiteral()
		writeOp(&buf, opCopy, offset, target[i:i+length])
		i += length
	}
	flushLiteral()

	return buf.Bytes()
}

// Decode reverses Encode: it replays delta's COPY/INSERT instruction
// stream against source to reconstruct the original target bytes.
func Decode(delta, source []byte) ([]byte, error) {
	var out bytes.Buffer
	r := bytes.NewReader(delta)

	for r.Len() > 0 {
		op, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("delta: reading opcode: %w", err)
		}

		var offset uint32
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return nil, fmt.Errorf("delta: reading offset: %w", err)
		}
		var length uint32
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("delta: reading length: %w", err)
		}

		switch op {
		case opCopy:
			end := uint64(offset) + uint64(length)
			if end > uint64(len(source)) {
				return nil, fmt.Errorf("delta: copy span [%d:%d] exceeds source length %d", offset, end, len(source))
			}
			out.Write(source[offset:end])
		case opInsert:
			buf := make([]byte, length)
			if _, err := r.Read(buf); err != nil {
				return nil, fmt.Errorf("delta: reading insert literal: %w", err)
			}
			out.Write(buf)
		default:
			return nil, fmt.Errorf("delta: unknown opcode %d", op)
		}
	}

	return out.Bytes(), nil
}

func writeOp(buf *bytes.Buffer, op byte, offset uint32, payload []byte) {
	buf.WriteByte(op)
	var num [4]byte
	binary.BigEndian.PutUint32(num[:], offset)
	buf.Write(num[:])
	binary.BigEndian.PutUint32(num[:], uint32(len(payload)))
	buf.Write(num[:])
	buf.Write(payload)
}

// buildIndex maps every blockSize-byte block hash in source to the
// offsets it occurs at.
func buildIndex(source []byte) map[uint64][]int {
	index := make(map[uint64][]int)
	if len(source) < blockSize {
		return index
	}
	for i := 0; i+blockSize <= len(source); i++ {
		h := hashBlock(source[i : i+blockSize])
		index[h] = append(index[h], i)
	}
	return index
}

// bestMatch finds the longest run starting at target[i] that also
// occurs somewhere in source, using index to locate candidate anchors.
// It returns the source offset and match length; length is 0 if no
// blockSize-byte match was found at i.
func bestMatch(source, target []byte, index map[uint64][]int, i int) (offset, length int) {
	if i+blockSize > len(target) {
		return 0, 0
	}
	h := hashBlock(target[i : i+blockSize])
	candidates, ok := index[h]
	if !ok {
		return 0, 0
	}

	bestLen := 0
	bestOffset := 0
	for _, c := range candidates {
		if !bytes.Equal(source[c:c+blockSize], target[i:i+blockSize]) {
			continue
		}
		l := extend(source, target, c, i)
		if l > bestLen {
			bestLen = l
			bestOffset = c
		}
	}
	return bestOffset, bestLen
}

// extend grows a confirmed blockSize match at (sourceOffset, targetOffset)
// as far forward as both slices agree.
func extend(source, target []byte, sourceOffset, targetOffset int) int {
	n := 0
	for sourceOffset+n < len(source) && targetOffset+n < len(target) && source[sourceOffset+n] == target[targetOffset+n] {
		n++
	}
	return n
}

// hashBlock is a plain FNV-1a digest; collisions are tolerated because
// bestMatch always verifies candidates with a byte comparison.
func hashBlock(b []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
