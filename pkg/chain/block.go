package chain

import (
	"strings"

	"github.com/kaizencycle/Mobius-Systems/pkg/canonicalize"
	"github.com/kaizencycle/Mobius-Systems/pkg/credit"
	"github.com/kaizencycle/Mobius-Systems/pkg/cycle"
	"github.com/kaizencycle/Mobius-Systems/pkg/merkle"
)

// GenesisParent is the parent hash of the block at height 0.
var GenesisParent = strings.Repeat("0", 64)

// Signature is one committee member's signature over a block hash.
type Signature struct {
	Member    string `json:"member"`
	Signature string `json:"signature"`
}

// Header commits a block to its parent, its contents and the state it was
// proposed against.
type Header struct {
	ParentHash    string      `json:"parent_hash"`
	Height        uint64      `json:"height"`
	Timestamp     int64       `json:"timestamp"`
	Proposer      string      `json:"proposer"`
	StateRoot     string      `json:"state_root"`
	TxRoot        string      `json:"tx_root"`
	EarnRoot      string      `json:"earn_root"`
	CycleRoot     string      `json:"cycle_root"`
	PolicyVersion string      `json:"policy_version"`
	PolicyHash    string      `json:"policy_hash"`
	CommitteeSigs []Signature `json:"committee_signatures,omitempty"`
}

// Hash is the content hash of the header. Committee signatures are excluded
// so that members sign the same digest the block is identified by.
func (h Header) Hash() string {
	h.CommitteeSigs = nil
	return canonicalize.MustHash(h)
}

// Block is a header plus the ordered records it commits.
type Block struct {
	Header       Header                   `json:"header"`
	Transactions []credit.Transaction     `json:"transactions"`
	Earns        []credit.EarnTransaction `json:"earn_transactions"`
	Cycles       []cycle.Cycle            `json:"cycles"`
	Hash         string                   `json:"hash"`
}

// TxRoot returns the Merkle root over transaction ids.
func TxRoot(txs []credit.Transaction) string {
	leaves := make([]string, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.ID
	}
	return merkle.Root(leaves)
}

// EarnRoot returns the Merkle root over earn transaction ids.
func EarnRoot(earns []credit.EarnTransaction) string {
	leaves := make([]string, len(earns))
	for i, e := range earns {
		leaves[i] = e.ID
	}
	return merkle.Root(leaves)
}

// CycleRoot returns the Merkle root over cycle record hashes.
func CycleRoot(cycles []cycle.Cycle) string {
	leaves := make([]string, len(cycles))
	for i, c := range cycles {
		leaves[i] = c.Hash()
	}
	return merkle.Root(leaves)
}

func (b Block) clone() Block {
	b.Header.CommitteeSigs = append([]Signature(nil), b.Header.CommitteeSigs...)
	b.Transactions = append([]credit.Transaction(nil), b.Transactions...)
	b.Earns = append([]credit.EarnTransaction(nil), b.Earns...)
	cycles := make([]cycle.Cycle, len(b.Cycles))
	for i, c := range b.Cycles {
		c.Sweeps = append([]string(nil), c.Sweeps...)
		cycles[i] = c
	}
	b.Cycles = cycles
	return b
}

// Applied counts the ledger records in the block.
func (b Block) Applied() int {
	return len(b.Transactions) + len(b.Earns)
}
