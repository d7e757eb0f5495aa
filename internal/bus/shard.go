package bus

import (
	"crypto/sha256"
	"encoding/binary"
)

// shardFor deterministically maps a workflow id to one of shardCount
// worker shards, guaranteeing every event for the same workflow is routed
// to the same shard and therefore processed in submission order (spec.md
// §4.5, §5: "the dispatcher hashes workflowId to a fixed worker shard").
//
// Grounded on the teacher's scheduler.computeOrderKey (sha256 of a key,
// first 8 bytes read as a big-endian uint64) — reused here as a shard hash
// rather than a heap sort key, since the bus needs routing, not ordering
// within a shard (a plain channel already preserves submission order).
func shardFor(workflowID string, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	h := sha256.Sum256([]byte(workflowID))
	key := binary.BigEndian.Uint64(h[:8])
	return int(key % uint64(shardCount))
}
