package store

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/jward/workbench/internal/message"
	"github.com/jward/workbench/internal/scopegraph"
)

// ComputeSnapshotHash computes a deterministic hash over a snapshot's
// observable state: unit sources, content hashes, outcomes and messages.
// The instance ID and save time do not affect the hash, so re-saving an
// unchanged context can be skipped.
func ComputeSnapshotHash(snap *scopegraph.Snapshot) string {
	h := sha256.New()
	fmt.Fprintf(h, "root:%s\n", snap.ID.Root)
	fmt.Fprintf(h, "language:%s\n", snap.ID.Language)

	// Units sorted by source for determinism.
	units := make([]scopegraph.UnitSnapshot, len(snap.Units))
	copy(units, snap.Units)
	sort.Slice(units, func(i, j int) bool { return units[i].Source < units[j].Source })

	for _, u := range units {
		fmt.Fprintf(h, "unit:%s:%s:%t:%t\n", u.Source, u.Hash, u.Analyzed, u.Success)
		if u.Result != nil {
			fmt.Fprintf(h, "constraints:%d\n", len(u.Result.Constraints))
		}
		msgs := make([]message.Message, len(u.Messages))
		copy(msgs, u.Messages)
		message.Sort(msgs)
		for _, m := range msgs {
			fmt.Fprintf(h, "message:%s\n", m.String())
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
