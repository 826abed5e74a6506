package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kaizencycle/Mobius-Systems/pkg/kernel"
)

// CheckResult is one verification step.
type CheckResult struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

// VerifyReport is the outcome of `mobius-kernel verify`.
type VerifyReport struct {
	Source    string        `json:"source"`
	Height    uint64        `json:"height"`
	StateRoot string        `json:"state_root"`
	TipHash   string        `json:"tip_hash,omitempty"`
	Verified  bool          `json:"verified"`
	Checks    []CheckResult `json:"checks"`
}

func (r *VerifyReport) check(name string, err error) bool {
	c := CheckResult{Name: name, Pass: err == nil}
	if err != nil {
		c.Reason = err.Error()
	}
	r.Checks = append(r.Checks, c)
	return c.Pass
}

// runVerifyCmd implements `mobius-kernel verify`.
//
// Loads the latest snapshot from the configured store (or --snapshot),
// restores it into a fresh kernel and re-checks the chain, the supply
// invariant, the stored block log and, when configured, the archive.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		snapshotFile string
		genesisPath  string
		jsonOutput   bool
	)
	cmd.StringVar(&snapshotFile, "snapshot", "", "Snapshot JSON file (default: latest snapshot in the store)")
	cmd.StringVar(&genesisPath, "genesis", "", "Genesis YAML file")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	n, err := openNode(ctx, genesisPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer n.Close(ctx)

	rep := &VerifyReport{}
	var snap kernel.Snapshot
	if snapshotFile != "" {
		data, err := os.ReadFile(snapshotFile)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: failed to read snapshot: %v\n", err)
			return 2
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: invalid snapshot: %v\n", err)
			return 2
		}
		rep.Source = snapshotFile
	} else {
		s, info, err := n.store.LatestSnapshot(ctx)
		if !rep.check("snapshot_hash", err) {
			return finishVerify(rep, jsonOutput, stdout)
		}
		snap = s
		rep.Source = "store:" + info.ID
	}
	rep.Height = snap.Height
	rep.StateRoot = snap.StateRoot

	opts, err := n.kernelOptions()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	k, err := kernel.New(opts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if !rep.check("import", k.Import(snap)) {
		return finishVerify(rep, jsonOutput, stdout)
	}
	rep.TipHash = k.Status().TipHash
	rep.check("chain", k.VerifyChain())
	rep.check("conservation", k.Reconcile())
	rep.check("store_blocks", checkStoredBlocks(ctx, n, snap))
	if n.archive != nil {
		rep.check("archive", checkArchive(ctx, n, snap))
	}
	return finishVerify(rep, jsonOutput, stdout)
}

// checkStoredBlocks compares the block log with the snapshot's chain. The log
// may run ahead of the snapshot but must agree on every shared height.
func checkStoredBlocks(ctx context.Context, n *node, snap kernel.Snapshot) error {
	stored, err := n.store.Blocks(ctx, 0, len(snap.Blocks))
	if err != nil {
		return err
	}
	if len(stored) < len(snap.Blocks) {
		return fmt.Errorf("store holds %d of %d snapshot blocks", len(stored), len(snap.Blocks))
	}
	for i, b := range snap.Blocks {
		if stored[i].Hash != b.Hash {
			return fmt.Errorf("height %d: store has %s, snapshot has %s", i, stored[i].Hash, b.Hash)
		}
	}
	return nil
}

func checkArchive(ctx context.Context, n *node, snap kernel.Snapshot) error {
	for _, b := range snap.Blocks {
		if _, err := n.archive.Get(ctx, b.Hash); err != nil {
			return err
		}
	}
	return nil
}

func finishVerify(rep *VerifyReport, jsonOutput bool, stdout io.Writer) int {
	rep.Verified = len(rep.Checks) > 0
	for _, c := range rep.Checks {
		rep.Verified = rep.Verified && c.Pass
	}
	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	} else {
		_, _ = fmt.Fprintf(stdout, "source: %s  height: %d\n", rep.Source, rep.Height)
		for _, c := range rep.Checks {
			mark := "PASS"
			if !c.Pass {
				mark = "FAIL"
			}
			_, _ = fmt.Fprintf(stdout, "  %s  %s", mark, c.Name)
			if c.Reason != "" {
				_, _ = fmt.Fprintf(stdout, ": %s", c.Reason)
			}
			_, _ = fmt.Fprintln(stdout)
		}
	}
	if !rep.Verified {
		return 1
	}
	return 0
}
