// Package btree implements the page-resident, ordered B+Tree described in
// spec §3.4 and §4.3: fixed ORDER=64 nodes carrying signed 32-bit ascending
// keys, iterative root-to-leaf descent for search, insert, delete and cursor
// positioning, split/borrow/merge rebalancing, and a leaf-chain cursor.
// Split and merge propagation toward the root, and Stats' node count,
// recurse once per tree level.
//
// Grounded on the teacher's original pkg/btree (page-pointer node access
// through get/new/del callbacks; parent-chain mutation on insert/delete;
// an iterator that walks a path+position stack). The teacher's node format
// is copy-on-write and variable-length (distinct byte-slice keys/values per
// page, offset tables, node splitting by byte budget); this spec fixes the
// key type to signed int32, fixes ORDER=64, adds parent and next_leaf
// pointers, and requires in-place mutation of cache-resident pages rather
// than copy-on-write, so every accessor below is rewritten against that
// fixed layout while keeping the teacher's page-pointer-based traversal
// style.
package btree

import (
	"encoding/binary"

	"github.com/amidb/amidb/pkg/cache"
	"github.com/amidb/amidb/pkg/pager"
)

// Order and MinKeys are the spec's fixed fanout constants (§3.4): every
// non-root node holds between MinKeys and Order keys.
const (
	Order   = 64
	MinKeys = Order / 2

	NodeInternal byte = 1
	NodeLeaf     byte = 2
)

// Node body layout within bytes 12..4095 of a BTREE page (spec §3.4):
//
//	node_type  (1)
//	num_keys   (4)
//	parent     (4)
//	next_leaf  (4)
//	keys[Order]              (4 * Order)
//	children[Order+1] / values[Order]  (4 * (Order+1), at the same offset
//	for both node kinds since a node is exactly one or the other)
const (
	typeOff     = 0
	numKeysOff  = 1
	parentOff   = 5
	nextLeafOff = 9
	keysOff     = 13
	keysBytes   = Order * 4
	slotsOff    = keysOff + keysBytes // children[] for INTERNAL, values[] for LEAF
)

func init() {
	// children[Order+1] is the larger of the two slot arrays; verify the
	// node always fits within the 4084-byte body (bytes 12..4095).
	maxBody := slotsOff + (Order+1)*4
	if maxBody > pager.PageSize-pager.PageHeaderSize {
		panic("btree: node layout exceeds page body")
	}
}

// Node is a thin accessor over a cache entry's body, interpreting it as a
// B+Tree node. It does not own the buffer; callers must hold the entry
// pinned for the Node's lifetime.
type Node struct {
	Entry *cache.Entry
}

func (n Node) body() []byte { return n.Entry.Body[pager.PageHeaderSize:] }

// Type returns NodeInternal or NodeLeaf.
func (n Node) Type() byte { return n.body()[typeOff] }

// SetType stamps the node kind and the page_type byte the pager expects.
func (n Node) SetType(t byte) {
	n.body()[typeOff] = t
	n.Entry.Body[4] = pager.PageBTree
}

// IsLeaf reports whether the node is a LEAF.
func (n Node) IsLeaf() bool { return n.Type() == NodeLeaf }

func (n Node) NumKeys() uint32 { return binary.LittleEndian.Uint32(n.body()[numKeysOff:]) }
func (n Node) SetNumKeys(v uint32) {
	binary.LittleEndian.PutUint32(n.body()[numKeysOff:], v)
}

func (n Node) Parent() uint32 { return binary.LittleEndian.Uint32(n.body()[parentOff:]) }
func (n Node) SetParent(v uint32) {
	binary.LittleEndian.PutUint32(n.body()[parentOff:], v)
}

func (n Node) NextLeaf() uint32 { return binary.LittleEndian.Uint32(n.body()[nextLeafOff:]) }
func (n Node) SetNextLeaf(v uint32) {
	binary.LittleEndian.PutUint32(n.body()[nextLeafOff:], v)
}

func (n Node) Key(i uint32) int32 {
	return int32(binary.LittleEndian.Uint32(n.body()[keysOff+4*i:]))
}
func (n Node) SetKey(i uint32, k int32) {
	binary.LittleEndian.PutUint32(n.body()[keysOff+4*i:], uint32(k))
}

// Child returns children[i] (INTERNAL nodes only).
func (n Node) Child(i uint32) uint32 {
	return binary.LittleEndian.Uint32(n.body()[slotsOff+4*i:])
}
func (n Node) SetChild(i uint32, v uint32) {
	binary.LittleEndian.PutUint32(n.body()[slotsOff+4*i:], v)
}

// Value returns values[i] (LEAF nodes only).
func (n Node) Value(i uint32) uint32 {
	return binary.LittleEndian.Uint32(n.body()[slotsOff+4*i:])
}
func (n Node) SetValue(i uint32, v uint32) {
	binary.LittleEndian.PutUint32(n.body()[slotsOff+4*i:], v)
}

// search binary-searches the live key slots [0, NumKeys) for key. It
// returns the exact index and found=true on a match, or the insertion
// index (count of keys strictly less than key) and found=false otherwise.
// For an internal node the insertion index doubles as the child index to
// descend into on a miss; an exact match routes to Child(idx+1) because
// separator keys are copies of the right subtree's minimum key (spec
// §4.3: "the split key is R.keys[0]").
func (n Node) search(key int32) (idx uint32, found bool) {
	lo, hi := uint32(0), n.NumKeys()
	for lo < hi {
		mid := (lo + hi) / 2
		k := n.Key(mid)
		switch {
		case k == key:
			return mid, true
		case k < key:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}
