package btree

import (
	"github.com/amidb/amidb/internal/logger"
	"github.com/amidb/amidb/internal/metrics"
	"github.com/amidb/amidb/pkg/cache"
	"github.com/amidb/amidb/pkg/dberr"
	"github.com/amidb/amidb/pkg/pager"
)

// Txn is the subset of the transaction manager a Tree needs to tag the
// pages it mutates (spec §4.3 "Transaction integration"). pkg/txn's
// *Txn satisfies this interface; a Tree used outside any transaction
// (e.g. during Create, or an embedder that accepts non-transactional
// writes) may leave it nil.
type Txn interface {
	AddDirtyPage(n uint32) error
	ID() uint64
}

// Tree is a page-resident B+Tree rooted at a page number stored by the
// caller (typically in the file header or a catalog schema page).
type Tree struct {
	pager *pager.Pager
	cache *cache.Cache
	root  uint32
	txn   Txn
	log   *logger.Logger
	metrics *metrics.Metrics
}

// Create allocates a single LEAF root page and returns the tree handle and
// its root page number (spec §4.3 "Create").
func Create(p *pager.Pager, c *cache.Cache, log *logger.Logger, m *metrics.Metrics) (*Tree, uint32, error) {
	pn, err := p.AllocatePage()
	if err != nil {
		return nil, 0, err
	}
	e, err := c.GetPage(pn)
	if err != nil {
		return nil, 0, err
	}
	n := Node{Entry: e}
	n.SetType(NodeLeaf)
	n.SetNumKeys(0)
	n.SetParent(0)
	n.SetNextLeaf(0)
	if err := c.MarkDirty(pn); err != nil {
		c.Unpin(pn)
		return nil, 0, err
	}
	if err := c.Flush(); err != nil {
		c.Unpin(pn)
		return nil, 0, err
	}
	c.Unpin(pn)

	if log != nil {
		log.BTreeLogger().Debug("created tree").Uint32("root", pn).Send()
	}
	return &Tree{pager: p, cache: c, root: pn, log: log, metrics: m}, pn, nil
}

// Open returns a handle to an existing tree rooted at root.
func Open(p *pager.Pager, c *cache.Cache, root uint32, log *logger.Logger, m *metrics.Metrics) *Tree {
	return &Tree{pager: p, cache: c, root: root, log: log, metrics: m}
}

// Close releases no state of its own: the cache owns persistence, and its
// flush rule (skip transaction-tagged pages) already protects an
// in-progress transaction's pages until abort/commit (spec §9 design
// notes: "ensure the cache's flush rule ... is also applied at tree
// close").
func (t *Tree) Close() error { return nil }

// SetTransaction associates txn with every subsequent write path. Pass nil
// to return to untracked (auto-dirty, never tagged) writes.
func (t *Tree) SetTransaction(txn Txn) { t.txn = txn }

// RootPage returns the tree's current root page number.
func (t *Tree) RootPage() uint32 { return t.root }

// touch is the single helper spec §4.3 requires every write path to call:
// it marks the cache entry dirty, appends the page to the transaction's
// deduplicated dirty set, and tags the entry with the transaction id so
// cache flush skips it until commit.
func (t *Tree) touch(pn uint32) error {
	if err := t.cache.MarkDirty(pn); err != nil {
		return err
	}
	if t.txn == nil {
		return nil
	}
	if err := t.txn.AddDirtyPage(pn); err != nil {
		return err
	}
	return t.cache.TagTxn(pn, t.txn.ID())
}

func (t *Tree) setChildParent(childPN, parentPN uint32) error {
	e, err := t.cache.GetPage(childPN)
	if err != nil {
		return err
	}
	Node{Entry: e}.SetParent(parentPN)
	err = t.touch(childPN)
	t.cache.Unpin(childPN)
	return err
}

// Search descends from the root, binary-searching each node, and returns
// the value stored for key (spec §4.3 "Search").
func (t *Tree) Search(key int32) (uint32, error) {
	pn := t.root
	for {
		e, err := t.cache.GetPage(pn)
		if err != nil {
			return 0, err
		}
		n := Node{Entry: e}
		if n.IsLeaf() {
			idx, found := n.search(key)
			var val uint32
			if found {
				val = n.Value(idx)
			}
			t.cache.Unpin(pn)
			if !found {
				return 0, dberr.New(dberr.NotFound, "btree.search", nil)
			}
			return val, nil
		}
		idx, found := n.search(key)
		var child uint32
		if found {
			child = n.Child(idx + 1)
		} else {
			child = n.Child(idx)
		}
		t.cache.Unpin(pn)
		pn = child
	}
}

// findLeaf descends from the root to the leaf that would contain key,
// without retaining any pin on the path.
func (t *Tree) findLeaf(key int32) (uint32, error) {
	pn := t.root
	for {
		e, err := t.cache.GetPage(pn)
		if err != nil {
			return 0, err
		}
		n := Node{Entry: e}
		if n.IsLeaf() {
			t.cache.Unpin(pn)
			return pn, nil
		}
		idx, found := n.search(key)
		var child uint32
		if found {
			child = n.Child(idx + 1)
		} else {
			child = n.Child(idx)
		}
		t.cache.Unpin(pn)
		pn = child
	}
}

// Insert upserts (key, value): an existing key is overwritten in place
// without changing num_keys (spec §4.3 "Insert").
func (t *Tree) Insert(key int32, value uint32) error {
	leafPN, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	e, err := t.cache.GetPage(leafPN)
	if err != nil {
		return err
	}
	n := Node{Entry: e}
	if n.NumKeys() == Order {
		t.cache.Unpin(leafPN)
		if err := t.splitLeaf(leafPN); err != nil {
			return err
		}
		// The target leaf may have changed; re-descend.
		leafPN, err = t.findLeaf(key)
		if err != nil {
			return err
		}
		e, err = t.cache.GetPage(leafPN)
		if err != nil {
			return err
		}
		n = Node{Entry: e}
	}

	idx, found := n.search(key)
	if found {
		n.SetValue(idx, value)
	} else {
		nk := n.NumKeys()
		for i := nk; i > idx; i-- {
			n.SetKey(i, n.Key(i-1))
			n.SetValue(i, n.Value(i-1))
		}
		n.SetKey(idx, key)
		n.SetValue(idx, value)
		n.SetNumKeys(nk + 1)
	}
	err = t.touch(leafPN)
	t.cache.Unpin(leafPN)
	if err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.BTreeEntriesGauge.Inc()
	}
	return nil
}

// splitLeaf allocates a new right sibling R, moves the upper half of L's
// keys/values to R, splices R into the leaf chain, and propagates the
// split upward (spec §4.3 "Leaf split").
func (t *Tree) splitLeaf(leafPN uint32) error {
	rPN, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}
	le, err := t.cache.GetPage(leafPN)
	if err != nil {
		return err
	}
	re, err := t.cache.GetPage(rPN)
	if err != nil {
		t.cache.Unpin(leafPN)
		return err
	}
	l := Node{Entry: le}
	r := Node{Entry: re}
	r.SetType(NodeLeaf)

	nk := l.NumKeys()
	mid := uint32(Order / 2)
	count := nk - mid
	for i := uint32(0); i < count; i++ {
		r.SetKey(i, l.Key(mid+i))
		r.SetValue(i, l.Value(mid+i))
	}
	r.SetNumKeys(count)
	r.SetNextLeaf(l.NextLeaf())
	l.SetNextLeaf(rPN)
	r.SetParent(l.Parent())
	l.SetNumKeys(mid)

	splitKey := r.Key(0)

	err1 := t.touch(leafPN)
	err2 := t.touch(rPN)
	t.cache.Unpin(rPN)
	t.cache.Unpin(leafPN)
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}

	if t.log != nil {
		t.log.BTreeLogger().Debug("split leaf").Uint32("left", leafPN).Uint32("right", rPN).Send()
	}
	return t.insertIntoParent(leafPN, splitKey, rPN)
}

// insertIntoParent splices (splitKey, right) into left's parent, creating
// a new root if left was the root, and recursively splitting the parent
// first if it is full (spec §4.3 "insert_into_parent").
func (t *Tree) insertIntoParent(leftPN uint32, splitKey int32, rightPN uint32) error {
	le, err := t.cache.GetPage(leftPN)
	if err != nil {
		return err
	}
	parentPN := Node{Entry: le}.Parent()
	t.cache.Unpin(leftPN)

	if parentPN == 0 {
		newRootPN, err := t.pager.AllocatePage()
		if err != nil {
			return err
		}
		ne, err := t.cache.GetPage(newRootPN)
		if err != nil {
			return err
		}
		root := Node{Entry: ne}
		root.SetType(NodeInternal)
		root.SetParent(0)
		root.SetKey(0, splitKey)
		root.SetChild(0, leftPN)
		root.SetChild(1, rightPN)
		root.SetNumKeys(1)
		err = t.touch(newRootPN)
		t.cache.Unpin(newRootPN)
		if err != nil {
			return err
		}

		if err := t.setChildParent(leftPN, newRootPN); err != nil {
			return err
		}
		if err := t.setChildParent(rightPN, newRootPN); err != nil {
			return err
		}

		t.root = newRootPN
		return t.pager.SetRootPage(newRootPN)
	}

	pe, err := t.cache.GetPage(parentPN)
	if err != nil {
		return err
	}
	pn := Node{Entry: pe}
	if pn.NumKeys() == Order {
		t.cache.Unpin(parentPN)
		if err := t.splitInternal(parentPN); err != nil {
			return err
		}
		// left's parent may have changed as a result of the split.
		le2, err := t.cache.GetPage(leftPN)
		if err != nil {
			return err
		}
		parentPN = Node{Entry: le2}.Parent()
		t.cache.Unpin(leftPN)
		pe, err = t.cache.GetPage(parentPN)
		if err != nil {
			return err
		}
		pn = Node{Entry: pe}
	}

	idx, _ := pn.search(splitKey)
	nk := pn.NumKeys()
	for i := nk; i > idx; i-- {
		pn.SetKey(i, pn.Key(i-1))
	}
	for i := nk + 1; i > idx+1; i-- {
		pn.SetChild(i, pn.Child(i-1))
	}
	pn.SetKey(idx, splitKey)
	pn.SetChild(idx+1, rightPN)
	pn.SetNumKeys(nk + 1)
	err = t.touch(parentPN)
	t.cache.Unpin(parentPN)
	if err != nil {
		return err
	}

	return t.setChildParent(rightPN, parentPN)
}

// splitInternal allocates a new right sibling R for the full internal node
// at pn, promotes the median key to the parent (rather than copying it),
// moves the upper half of keys and children to R, and propagates the split
// upward (spec §4.3 "Internal split").
func (t *Tree) splitInternal(pn uint32) error {
	rPN, err := t.pager.AllocatePage()
	if err != nil {
		return err
	}
	pe, err := t.cache.GetPage(pn)
	if err != nil {
		return err
	}
	re, err := t.cache.GetPage(rPN)
	if err != nil {
		t.cache.Unpin(pn)
		return err
	}
	l := Node{Entry: pe}
	r := Node{Entry: re}
	r.SetType(NodeInternal)

	mid := uint32(Order / 2)
	median := l.Key(mid)
	nk := l.NumKeys()

	rKeyCount := nk - mid - 1
	rChildCount := nk - mid
	movedChildren := make([]uint32, rChildCount)
	for i := uint32(0); i < rKeyCount; i++ {
		r.SetKey(i, l.Key(mid+1+i))
	}
	for i := uint32(0); i < rChildCount; i++ {
		c := l.Child(mid + 1 + i)
		r.SetChild(i, c)
		movedChildren[i] = c
	}
	r.SetNumKeys(rKeyCount)
	r.SetParent(l.Parent())
	l.SetNumKeys(mid)

	err1 := t.touch(pn)
	err2 := t.touch(rPN)
	t.cache.Unpin(rPN)
	t.cache.Unpin(pn)
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}

	for _, c := range movedChildren {
		if err := t.setChildParent(c, rPN); err != nil {
			return err
		}
	}

	if t.log != nil {
		t.log.BTreeLogger().Debug("split internal").Uint32("left", pn).Uint32("right", rPN).Send()
	}
	return t.insertIntoParent(pn, median, rPN)
}
