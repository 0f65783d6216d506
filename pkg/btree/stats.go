package btree

import "github.com/amidb/amidb/pkg/dberr"

// MaxHeight bounds the leftmost-path descent in Stats (spec §9:
// "BTREE_MAX_HEIGHT = 16"); a deeper tree is reported as CORRUPT.
const MaxHeight = 16

// Stats summarizes a tree's shape: total leaf entries, height (root=1),
// and total node count. Height comes from a bounded-depth leftmost-path
// descent, entries from a leaf-chain walk, and the node count from a
// recursive walk of every node (spec §6.2 "stats").
type Stats struct {
	Entries int
	Height  int
	Nodes   int
}

// Stats walks the tree and reports entry count, height, and node count.
func (t *Tree) Stats() (Stats, error) {
	var s Stats

	pn := t.root
	height := 0
	for {
		height++
		if height > MaxHeight {
			return s, dberr.New(dberr.Corrupt, "btree.stats", nil)
		}
		e, err := t.cache.GetPage(pn)
		if err != nil {
			return s, err
		}
		n := Node{Entry: e}
		leaf := n.IsLeaf()
		child := uint32(0)
		if !leaf {
			child = n.Child(0)
		}
		t.cache.Unpin(pn)
		if leaf {
			break
		}
		pn = child
	}
	s.Height = height

	nodes, err := t.countSubtree(t.root)
	if err != nil {
		return s, err
	}
	s.Nodes = nodes

	leafPN := pn
	for leafPN != 0 {
		e, err := t.cache.GetPage(leafPN)
		if err != nil {
			return s, err
		}
		n := Node{Entry: e}
		s.Entries += int(n.NumKeys())
		next := n.NextLeaf()
		t.cache.Unpin(leafPN)
		leafPN = next
	}

	if t.metrics != nil {
		t.metrics.BTreeHeightGauge.Set(float64(s.Height))
		t.metrics.BTreeEntriesGauge.Set(float64(s.Entries))
	}
	return s, nil
}

// countSubtree returns the total node count rooted at pn.
func (t *Tree) countSubtree(pn uint32) (int, error) {
	e, err := t.cache.GetPage(pn)
	if err != nil {
		return 0, err
	}
	n := Node{Entry: e}
	leaf := n.IsLeaf()
	nk := n.NumKeys()
	var children []uint32
	if !leaf {
		children = make([]uint32, nk+1)
		for i := uint32(0); i <= nk; i++ {
			children[i] = n.Child(i)
		}
	}
	t.cache.Unpin(pn)

	total := 1
	for _, c := range children {
		sub, err := t.countSubtree(c)
		if err != nil {
			return 0, err
		}
		total += sub
	}
	return total, nil
}
