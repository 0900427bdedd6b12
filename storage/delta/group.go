package delta

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SourceGroup is the per-host source/target graph of §4.5: each source
// fingerprint maps to the set of target fingerprints whose stored body
// is a delta against it. Sources are kept in insertion order so the
// default SelectSource policy ("first key of the group") is
// deterministic.
type SourceGroup struct {
	sources  []string
	targets  map[string][]string // source fp -> target fps, insertion order within each
	sourceOf map[string]string   // target fp -> source fp, reverse index
}

func newSourceGroup() *SourceGroup {
	return &SourceGroup{
		targets:  make(map[string][]string),
		sourceOf: make(map[string]string),
	}
}

// Sources returns the group's source fingerprints in insertion order.
func (g *SourceGroup) Sources() []string {
	return append([]string(nil), g.sources...)
}

// Targets returns the target fingerprints currently attached to source.
func (g *SourceGroup) Targets(source string) []string {
	return append([]string(nil), g.targets[source]...)
}

// isSource reports whether fp is a source in this group.
func (g *SourceGroup) isSource(fp string) bool {
	_, ok := g.targets[fp]
	return ok
}

// addSource registers fp as a new source with an empty target set, if
// not already present.
func (g *SourceGroup) addSource(fp string) {
	if g.isSource(fp) {
		return
	}
	g.sources = append(g.sources, fp)
	g.targets[fp] = nil
}

// addTarget records fp as a target of source, removing any prior
// source association for fp.
func (g *SourceGroup) addTarget(source, fp string) {
	if old, ok := g.sourceOf[fp]; ok && old != source {
		g.removeTarget(old, fp)
	}
	g.targets[source] = append(g.targets[source], fp)
	g.sourceOf[fp] = source
}

func (g *SourceGroup) removeTarget(source, fp string) {
	ts := g.targets[source]
	for i, t := range ts {
		if t == fp {
			g.targets[source] = append(ts[:i], ts[i+1:]...)
			break
		}
	}
	delete(g.sourceOf, fp)
}

// sourceFor returns the source fingerprint owning target fp.
func (g *SourceGroup) sourceFor(fp string) (string, bool) {
	s, ok := g.sourceOf[fp]
	return s, ok
}

// encodeGroup serialises g in the same length-prefixed style as
// storage.Record, since this is the blob stored under a host key's
// _data column.
func encodeGroup(g *SourceGroup) []byte {
	var buf bytes.Buffer
	var num [4]byte

	binary.BigEndian.PutUint32(num[:], uint32(len(g.sources)))
	buf.Write(num[:])
	for _, s := range g.sources {
		writeGroupString(&buf, s)
		targets := g.targets[s]
		binary.BigEndian.PutUint32(num[:], uint32(len(targets)))
		buf.Write(num[:])
		for _, t := range targets {
			writeGroupString(&buf, t)
		}
	}
	return buf.Bytes()
}

func decodeGroup(data []byte) (*SourceGroup, error) {
	g := newSourceGroup()
	r := bytes.NewReader(data)

	sourceCount, err := readGroupUint32(r)
	if err != nil {
		return nil, fmt.Errorf("delta: reading source count: %w", err)
	}
	for i := uint32(0); i < sourceCount; i++ {
		source, err := readGroupString(r)
		if err != nil {
			return nil, fmt.Errorf("delta: reading source fingerprint: %w", err)
		}
		g.addSource(source)

		targetCount, err := readGroupUint32(r)
		if err != nil {
			return nil, fmt.Errorf("delta: reading target count: %w", err)
		}
		for j := uint32(0); j < targetCount; j++ {
			target, err := readGroupString(r)
			if err != nil {
				return nil, fmt.Errorf("delta: reading target fingerprint: %w", err)
			}
			g.addTarget(source, target)
		}
	}
	return g, nil
}

func writeGroupString(buf *bytes.Buffer, s string) {
	var num [4]byte
	binary.BigEndian.PutUint32(num[:], uint32(len(s)))
	buf.Write(num[:])
	buf.WriteString(s)
}

func readGroupString(r *bytes.Reader) (string, error) {
	n, err := readGroupUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

func readGroupUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
