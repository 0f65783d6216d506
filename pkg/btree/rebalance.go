package btree

import "github.com/amidb/amidb/pkg/dberr"

// Delete removes key from its leaf, then rebalances upward if the leaf
// underflows (spec §4.3 "Delete").
func (t *Tree) Delete(key int32) error {
	leafPN, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	e, err := t.cache.GetPage(leafPN)
	if err != nil {
		return err
	}
	n := Node{Entry: e}
	idx, found := n.search(key)
	if !found {
		t.cache.Unpin(leafPN)
		return dberr.New(dberr.NotFound, "btree.delete", nil)
	}

	nk := n.NumKeys()
	for i := idx; i < nk-1; i++ {
		n.SetKey(i, n.Key(i+1))
		n.SetValue(i, n.Value(i+1))
	}
	n.SetNumKeys(nk - 1)
	err = t.touch(leafPN)
	t.cache.Unpin(leafPN)
	if err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.BTreeEntriesGauge.Dec()
	}

	if leafPN != t.root && nk-1 < MinKeys {
		return t.rebalance(leafPN)
	}
	return nil
}

// rebalance walks up from an underfull non-root page, trying to borrow a
// key from a sibling before merging, and recurses into the parent if a
// merge leaves it underfull in turn (spec §4.3 "Rebalance").
func (t *Tree) rebalance(pn uint32) error {
	e, err := t.cache.GetPage(pn)
	if err != nil {
		return err
	}
	n := Node{Entry: e}
	parentPN := n.Parent()
	isLeaf := n.IsLeaf()
	nk := n.NumKeys()
	t.cache.Unpin(pn)

	if parentPN == 0 {
		if !isLeaf && nk == 0 {
			return t.collapseRoot(pn)
		}
		return nil
	}

	idx, err := t.childIndex(parentPN, pn)
	if err != nil {
		return err
	}

	pe, err := t.cache.GetPage(parentPN)
	if err != nil {
		return err
	}
	p := Node{Entry: pe}
	parentNK := p.NumKeys()
	haveRight := idx < parentNK
	haveLeft := idx > 0
	var rightPN, leftPN uint32
	if haveRight {
		rightPN = p.Child(idx + 1)
	}
	if haveLeft {
		leftPN = p.Child(idx - 1)
	}
	t.cache.Unpin(parentPN)

	if haveRight {
		re, err := t.cache.GetPage(rightPN)
		if err != nil {
			return err
		}
		rk := Node{Entry: re}.NumKeys()
		t.cache.Unpin(rightPN)
		if rk > MinKeys {
			return t.borrow(parentPN, idx, pn, rightPN, isLeaf, true)
		}
	}
	if haveLeft {
		lefte, err := t.cache.GetPage(leftPN)
		if err != nil {
			return err
		}
		lk := Node{Entry: lefte}.NumKeys()
		t.cache.Unpin(leftPN)
		if lk > MinKeys {
			return t.borrow(parentPN, idx-1, leftPN, pn, isLeaf, false)
		}
	}

	if haveRight {
		return t.merge(parentPN, idx, pn, rightPN, isLeaf)
	}
	return t.merge(parentPN, idx-1, leftPN, pn, isLeaf)
}

// childIndex returns the index at which childPN appears in parentPN's
// children array.
func (t *Tree) childIndex(parentPN, childPN uint32) (uint32, error) {
	pe, err := t.cache.GetPage(parentPN)
	if err != nil {
		return 0, err
	}
	defer t.cache.Unpin(parentPN)
	p := Node{Entry: pe}
	for i := uint32(0); i <= p.NumKeys(); i++ {
		if p.Child(i) == childPN {
			return i, nil
		}
	}
	return 0, dberr.New(dberr.Corrupt, "btree.child_index", nil)
}

// collapseRoot promotes an internal root's sole remaining child to be the
// new root, freeing the old one (spec §4.3 "Rebalance" step 1).
func (t *Tree) collapseRoot(rootPN uint32) error {
	e, err := t.cache.GetPage(rootPN)
	if err != nil {
		return err
	}
	childPN := Node{Entry: e}.Child(0)
	t.cache.Unpin(rootPN)

	if err := t.setChildParent(childPN, 0); err != nil {
		return err
	}
	t.root = childPN
	if err := t.pager.SetRootPage(childPN); err != nil {
		return err
	}
	_ = t.cache.ClearTxn(rootPN) // best-effort; absent entry needs no clearing
	return t.pager.FreePage(rootPN)
}

// borrow moves one key (and, for internal nodes, one child) across the
// parent separator at parentIdx from the lending side to the borrowing
// side. fromRight selects whether the lender is the right sibling of
// leftPN/rightPN's pair (spec §4.3 "Rebalance" step 2).
func (t *Tree) borrow(parentPN, parentIdx, leftPN, rightPN uint32, isLeaf bool, fromRight bool) error {
	le, err := t.cache.GetPage(leftPN)
	if err != nil {
		return err
	}
	re, err := t.cache.GetPage(rightPN)
	if err != nil {
		t.cache.Unpin(leftPN)
		return err
	}
	pe, err := t.cache.GetPage(parentPN)
	if err != nil {
		t.cache.Unpin(leftPN)
		t.cache.Unpin(rightPN)
		return err
	}
	l := Node{Entry: le}
	r := Node{Entry: re}
	p := Node{Entry: pe}

	var movedChild uint32
	hasMovedChild := false

	if fromRight {
		lk, rk := l.NumKeys(), r.NumKeys()
		if isLeaf {
			l.SetKey(lk, r.Key(0))
			l.SetValue(lk, r.Value(0))
			l.SetNumKeys(lk + 1)
			for i := uint32(0); i < rk-1; i++ {
				r.SetKey(i, r.Key(i+1))
				r.SetValue(i, r.Value(i+1))
			}
			r.SetNumKeys(rk - 1)
			p.SetKey(parentIdx, r.Key(0))
		} else {
			l.SetKey(lk, p.Key(parentIdx))
			movedChild = r.Child(0)
			hasMovedChild = true
			l.SetChild(lk+1, movedChild)
			l.SetNumKeys(lk + 1)
			newSep := r.Key(0)
			for i := uint32(0); i < rk-1; i++ {
				r.SetKey(i, r.Key(i+1))
			}
			for i := uint32(0); i < rk; i++ {
				r.SetChild(i, r.Child(i+1))
			}
			r.SetNumKeys(rk - 1)
			p.SetKey(parentIdx, newSep)
		}
	} else {
		lk, rk := l.NumKeys(), r.NumKeys()
		if isLeaf {
			for i := rk; i > 0; i-- {
				r.SetKey(i, r.Key(i-1))
				r.SetValue(i, r.Value(i-1))
			}
			r.SetKey(0, l.Key(lk-1))
			r.SetValue(0, l.Value(lk-1))
			r.SetNumKeys(rk + 1)
			l.SetNumKeys(lk - 1)
			p.SetKey(parentIdx, r.Key(0))
		} else {
			for i := rk; i > 0; i-- {
				r.SetKey(i, r.Key(i-1))
			}
			for i := rk + 1; i > 0; i-- {
				r.SetChild(i, r.Child(i-1))
			}
			r.SetKey(0, p.Key(parentIdx))
			movedChild = l.Child(lk)
			hasMovedChild = true
			r.SetChild(0, movedChild)
			r.SetNumKeys(rk + 1)
			p.SetKey(parentIdx, l.Key(lk-1))
			l.SetNumKeys(lk - 1)
		}
	}

	err1 := t.touch(leftPN)
	err2 := t.touch(rightPN)
	err3 := t.touch(parentPN)
	t.cache.Unpin(leftPN)
	t.cache.Unpin(rightPN)
	t.cache.Unpin(parentPN)
	for _, e := range []error{err1, err2, err3} {
		if e != nil {
			return e
		}
	}

	if hasMovedChild {
		dest := rightPN
		if fromRight {
			dest = leftPN
		}
		return t.setChildParent(movedChild, dest)
	}
	return nil
}

// merge concatenates leftPN and rightPN into leftPN, removes the
// separator at parentIdx from the parent, frees rightPN, and recurses into
// the parent if it is now underfull (spec §4.3 "Rebalance" step 3).
func (t *Tree) merge(parentPN, parentIdx, leftPN, rightPN uint32, isLeaf bool) error {
	le, err := t.cache.GetPage(leftPN)
	if err != nil {
		return err
	}
	re, err := t.cache.GetPage(rightPN)
	if err != nil {
		t.cache.Unpin(leftPN)
		return err
	}
	pe, err := t.cache.GetPage(parentPN)
	if err != nil {
		t.cache.Unpin(leftPN)
		t.cache.Unpin(rightPN)
		return err
	}
	l := Node{Entry: le}
	r := Node{Entry: re}
	p := Node{Entry: pe}

	lk, rk := l.NumKeys(), r.NumKeys()
	var movedChildren []uint32

	if isLeaf {
		for i := uint32(0); i < rk; i++ {
			l.SetKey(lk+i, r.Key(i))
			l.SetValue(lk+i, r.Value(i))
		}
		l.SetNumKeys(lk + rk)
		l.SetNextLeaf(r.NextLeaf())
	} else {
		l.SetKey(lk, p.Key(parentIdx))
		for i := uint32(0); i < rk; i++ {
			l.SetKey(lk+1+i, r.Key(i))
		}
		movedChildren = make([]uint32, rk+1)
		for i := uint32(0); i <= rk; i++ {
			c := r.Child(i)
			l.SetChild(lk+1+i, c)
			movedChildren[i] = c
		}
		l.SetNumKeys(lk + 1 + rk)
	}

	parentNK := p.NumKeys()
	for i := parentIdx; i < parentNK-1; i++ {
		p.SetKey(i, p.Key(i+1))
	}
	for i := parentIdx + 1; i < parentNK; i++ {
		p.SetChild(i, p.Child(i+1))
	}
	p.SetNumKeys(parentNK - 1)

	err1 := t.touch(leftPN)
	err2 := t.touch(parentPN)
	t.cache.Unpin(leftPN)
	t.cache.Unpin(rightPN)
	t.cache.Unpin(parentPN)
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}

	_ = t.cache.ClearTxn(rightPN) // best-effort; absent entry needs no clearing
	if err := t.pager.FreePage(rightPN); err != nil {
		return err
	}

	for _, c := range movedChildren {
		if err := t.setChildParent(c, leftPN); err != nil {
			return err
		}
	}

	if t.log != nil {
		t.log.BTreeLogger().Debug("merged siblings").Uint32("left", leftPN).Uint32("right", rightPN).Send()
	}

	if parentPN == t.root || parentNK-1 < MinKeys {
		return t.rebalance(parentPN)
	}
	return nil
}
