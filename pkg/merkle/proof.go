package merkle

// Side marks where the sibling sits relative to the running hash.
type Side string

const (
	SideLeft  Side = "L"
	SideRight Side = "R"
)

// Proof is an inclusion proof for a single leaf.
type Proof struct {
	Index    int         `json:"index"`
	LeafHash string      `json:"leaf_hash"`
	Root     string      `json:"root"`
	Path     []ProofStep `json:"path"`
}

type ProofStep struct {
	Side        Side   `json:"side"`
	SiblingHash string `json:"sibling_hash"`
}

// Verify recomputes the root from leaf and path and compares it against
// expectedRoot.
func Verify(leaf string, path []ProofStep, expectedRoot string) bool {
	current := LeafDigest(leaf)
	for _, step := range path {
		if step.Side == SideLeft {
			current = NodeHash(step.SiblingHash, current)
		} else {
			current = NodeHash(current, step.SiblingHash)
		}
	}
	return current == expectedRoot
}

// Verify checks the proof against a trusted root. An empty trusted root
// checks the proof against its own recorded root.
func (p Proof) Verify(trustedRoot string) bool {
	if trustedRoot == "" {
		trustedRoot = p.Root
	}
	if p.Root != trustedRoot {
		return false
	}
	return Verify(p.LeafHash, p.Path, trustedRoot)
}
