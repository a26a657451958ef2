package dag

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/zeebo/xxh3"
)

// Hash is the identity of a Graph's names and edges. It does not depend on
// input order.
type Hash string

func (h Hash) String() string { return string(h) }

// All fields are length-prefixed to avoid ambiguity.
func (g *Graph) computeHash() Hash {
	var buf []byte
	writeField := func(data []byte) {
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(data)))
		buf = append(buf, data...)
	}

	sorted := make([]string, len(g.names))
	copy(sorted, g.names)
	sort.Strings(sorted)

	buf = binary.BigEndian.AppendUint64(buf, uint64(len(sorted)))
	for _, name := range sorted {
		writeField([]byte(name))
		deps := g.Dependencies(name)
		sort.Strings(deps)
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(deps)))
		for _, d := range deps {
			writeField([]byte(d))
		}
	}

	return Hash(fmt.Sprintf("%x", xxh3.Hash128(buf).Bytes()))
}
