// Package snowflake generates the gateway's message ids: 63-bit positive
// integers that sort by creation time, so history merges and client-side
// dedupe can rely on id order matching send order within an instance.
package snowflake

import (
	"fmt"
	"sync"
	"time"
)

// Layout, high to low: 41 bits of milliseconds since epoch, 10 bits of node
// id, 12 bits of per-millisecond sequence. Positive for ~69 years from the
// epoch; client-side draft messages use negative ids precisely because
// generated ids never are.
const (
	nodeBits = 10
	seqBits  = 12

	// MaxNode is the largest usable node id.
	MaxNode = 1<<nodeBits - 1

	seqMask   = 1<<seqBits - 1
	timeShift = nodeBits + seqBits

	// 2025-01-01 00:00:00 UTC, in milliseconds.
	epochMillis int64 = 1735689600000
)

// Node generates ids for one gateway instance. Instances sharing a deployment
// must use distinct node ids or ids can collide.
type Node struct {
	mu   sync.Mutex
	node int64
	last int64
	seq  int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > MaxNode {
		return nil, fmt.Errorf("snowflake: node id %d out of range [0, %d]", node, MaxNode)
	}
	return &Node{node: node}, nil
}

// Generate returns the next id. Safe for concurrent use.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < n.last {
		// Clock went backwards; keep issuing from the last observed
		// millisecond rather than risk duplicate ids.
		now = n.last
	}

	if now == n.last {
		n.seq = (n.seq + 1) & seqMask
		if n.seq == 0 {
			// Sequence exhausted for this millisecond; wait it out.
			for now <= n.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.seq = 0
	}
	n.last = now

	return (now-epochMillis)<<timeShift | n.node<<seqBits | n.seq
}
