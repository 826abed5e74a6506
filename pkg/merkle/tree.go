// Package merkle commits ordered lists of hex digests to a single root and
// produces inclusion proofs against it.
//
// Leaves are padded to the next power of two by duplicating the final leaf.
// Parent nodes are sha256(left || right) over the decoded digest bytes.
// Every node is a 32 byte sha256 digest in lowercase hex; a leaf in any
// other form is committed as the sha256 of its exact string.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/kaizencycle/Mobius-Systems/pkg/kerr"
)

// EmptyRoot is the root committed for an empty leaf list: sha256 of the
// empty string.
const EmptyRoot = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Tree is a fully materialised Merkle tree.
type Tree struct {
	count  int
	levels [][]string // levels[0] is the padded leaf level, last is the root
}

// Build constructs a tree over leaves in the order given.
func Build(leaves []string) *Tree {
	if len(leaves) == 0 {
		return &Tree{levels: [][]string{{EmptyRoot}}}
	}

	norm := make([]string, len(leaves))
	for i, l := range leaves {
		norm[i] = LeafDigest(l)
	}
	level := pad(norm)
	t := &Tree{count: len(leaves)}
	for len(level) > 1 {
		t.levels = append(t.levels, level)
		level = buildNextLevel(level)
	}
	t.levels = append(t.levels, level)
	return t
}

// Root computes the Merkle root of leaves without keeping the tree.
func Root(leaves []string) string {
	return Build(leaves).Root()
}

// Root returns the tree's root digest.
func (t *Tree) Root() string {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of leaves before padding.
func (t *Tree) Len() int {
	return t.count
}

// Proof returns the sibling path for the leaf at index.
func (t *Tree) Proof(index int) (Proof, error) {
	if index < 0 || index >= t.count {
		return Proof{}, kerr.ErrOutOfRange.With("merkle.proof", "index %d outside [0,%d)", index, t.count)
	}

	p := Proof{
		Index:    index,
		LeafHash: t.levels[0][index],
		Root:     t.Root(),
	}
	pos := index
	for _, level := range t.levels[:len(t.levels)-1] {
		if pos%2 == 0 {
			p.Path = append(p.Path, ProofStep{Side: SideRight, SiblingHash: level[pos+1]})
		} else {
			p.Path = append(p.Path, ProofStep{Side: SideLeft, SiblingHash: level[pos-1]})
		}
		pos /= 2
	}
	return p, nil
}

func pad(leaves []string) []string {
	size := 1
	for size < len(leaves) {
		size <<= 1
	}
	out := make([]string, size)
	copy(out, leaves)
	for i := len(leaves); i < size; i++ {
		out[i] = leaves[len(leaves)-1]
	}
	return out
}

func buildNextLevel(hashes []string) []string {
	next := make([]string, len(hashes)/2)
	for i := 0; i < len(hashes); i += 2 {
		next[i/2] = NodeHash(hashes[i], hashes[i+1])
	}
	return next
}

// LeafDigest returns the node a leaf occupies in the tree: the leaf itself
// when it is a lowercase hex sha256 digest, otherwise sha256 of the string.
func LeafDigest(leaf string) string {
	if IsDigest(leaf) {
		return leaf
	}
	sum := sha256.Sum256([]byte(leaf))
	return hex.EncodeToString(sum[:])
}

// IsDigest reports whether s is 64 lowercase hex characters.
func IsDigest(s string) bool {
	if len(s) != 2*sha256.Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// NodeHash returns sha256(left || right) over the decoded digests of two
// nodes.
func NodeHash(left, right string) string {
	h := sha256.New()
	h.Write(nodeBytes(left))
	h.Write(nodeBytes(right))
	return hex.EncodeToString(h.Sum(nil))
}

func nodeBytes(node string) []byte {
	b, _ := hex.DecodeString(LeafDigest(node))
	return b
}
