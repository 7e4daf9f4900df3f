package schedule

import "time"

// Item associates an occupying interval with the identifier of its owner
// (a booking or a maintenance window).
type Item struct {
	Ref      string
	Interval Interval
}

// Tree is an AVL tree of intervals augmented with the maximum end time of
// each subtree, giving O(log n) insert, delete and overlap queries. Entries
// are ordered by start time with the owner reference as tie-breaker, so the
// same interval may be held by multiple owners while each (ref, interval)
// pair appears at most once.
type Tree struct {
	root *treeNode
	size int
}

type treeNode struct {
	item   Item
	left   *treeNode
	right  *treeNode
	height int
	maxEnd time.Time
}

// Len returns the number of intervals held by the tree.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

// Insert adds an interval for the given owner. Inserting the same
// (ref, interval) pair twice is a no-op.
func (t *Tree) Insert(ref string, iv Interval) {
	if t == nil || !iv.IsValid() {
		return
	}
	var added bool
	t.root, added = insertNode(t.root, Item{Ref: ref, Interval: iv})
	if added {
		t.size++
	}
}

// Delete removes the interval held by the given owner. It reports whether an
// entry was removed.
func (t *Tree) Delete(ref string, iv Interval) bool {
	if t == nil {
		return false
	}
	var removed bool
	t.root, removed = deleteNode(t.root, Item{Ref: ref, Interval: iv})
	if removed {
		t.size--
	}
	return removed
}

// FirstOverlap returns an item whose interval overlaps iv, skipping the
// owner named by exclude. Which overlapping item is returned is
// unspecified when several exist.
func (t *Tree) FirstOverlap(iv Interval, exclude string) (Item, bool) {
	if t == nil {
		return Item{}, false
	}
	return firstOverlap(t.root, iv, exclude)
}

// Overlapping collects every item whose interval overlaps iv, ordered by
// start time.
func (t *Tree) Overlapping(iv Interval) []Item {
	if t == nil {
		return nil
	}
	var out []Item
	collectOverlaps(t.root, iv, &out)
	return out
}

// Items returns all entries ordered by start time.
func (t *Tree) Items() []Item {
	if t == nil {
		return nil
	}
	out := make([]Item, 0, t.size)
	appendInOrder(t.root, &out)
	return out
}

func compareItems(a, b Item) int {
	switch {
	case a.Interval.Start.Before(b.Interval.Start):
		return -1
	case a.Interval.Start.After(b.Interval.Start):
		return 1
	case a.Ref < b.Ref:
		return -1
	case a.Ref > b.Ref:
		return 1
	case a.Interval.End.Before(b.Interval.End):
		return -1
	case a.Interval.End.After(b.Interval.End):
		return 1
	default:
		return 0
	}
}

func insertNode(n *treeNode, item Item) (*treeNode, bool) {
	if n == nil {
		return &treeNode{item: item, height: 1, maxEnd: item.Interval.End}, true
	}
	var added bool
	switch cmp := compareItems(item, n.item); {
	case cmp < 0:
		n.left, added = insertNode(n.left, item)
	case cmp > 0:
		n.right, added = insertNode(n.right, item)
	default:
		return n, false
	}
	if !added {
		return n, false
	}
	return rebalance(n), true
}

func deleteNode(n *treeNode, item Item) (*treeNode, bool) {
	if n == nil {
		return nil, false
	}
	var removed bool
	switch cmp := compareItems(item, n.item); {
	case cmp < 0:
		n.left, removed = deleteNode(n.left, item)
	case cmp > 0:
		n.right, removed = deleteNode(n.right, item)
	default:
		removed = true
		if n.left == nil {
			return n.right, true
		}
		if n.right == nil {
			return n.left, true
		}
		successor := n.right
		for successor.left != nil {
			successor = successor.left
		}
		n.item = successor.item
		n.right, _ = deleteNode(n.right, successor.item)
	}
	if !removed {
		return n, false
	}
	return rebalance(n), true
}

func firstOverlap(n *treeNode, iv Interval, exclude string) (Item, bool) {
	// Subtrees whose maximum end does not pass iv.Start cannot overlap.
	if n == nil || !n.maxEnd.After(iv.Start) {
		return Item{}, false
	}
	if item, ok := firstOverlap(n.left, iv, exclude); ok {
		return item, true
	}
	if n.item.Interval.Overlaps(iv) && n.item.Ref != exclude {
		return n.item, true
	}
	if n.item.Interval.Start.Before(iv.End) {
		return firstOverlap(n.right, iv, exclude)
	}
	return Item{}, false
}

func collectOverlaps(n *treeNode, iv Interval, out *[]Item) {
	if n == nil || !n.maxEnd.After(iv.Start) {
		return
	}
	collectOverlaps(n.left, iv, out)
	if n.item.Interval.Overlaps(iv) {
		*out = append(*out, n.item)
	}
	if n.item.Interval.Start.Before(iv.End) {
		collectOverlaps(n.right, iv, out)
	}
}

func appendInOrder(n *treeNode, out *[]Item) {
	if n == nil {
		return
	}
	appendInOrder(n.left, out)
	*out = append(*out, n.item)
	appendInOrder(n.right, out)
}

func height(n *treeNode) int {
	if n == nil {
		return 0
	}
	return n.height
}

func update(n *treeNode) {
	n.height = 1 + max(height(n.left), height(n.right))
	n.maxEnd = n.item.Interval.End
	if n.left != nil && n.left.maxEnd.After(n.maxEnd) {
		n.maxEnd = n.left.maxEnd
	}
	if n.right != nil && n.right.maxEnd.After(n.maxEnd) {
		n.maxEnd = n.right.maxEnd
	}
}

func balanceFactor(n *treeNode) int {
	return height(n.left) - height(n.right)
}

func rotateRight(n *treeNode) *treeNode {
	pivot := n.left
	n.left = pivot.right
	pivot.right = n
	update(n)
	update(pivot)
	return pivot
}

func rotateLeft(n *treeNode) *treeNode {
	pivot := n.right
	n.right = pivot.left
	pivot.left = n
	update(n)
	update(pivot)
	return pivot
}

func rebalance(n *treeNode) *treeNode {
	update(n)
	switch bf := balanceFactor(n); {
	case bf > 1:
		if balanceFactor(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	case bf < -1:
		if balanceFactor(n.right) > 0 {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	default:
		return n
	}
}
