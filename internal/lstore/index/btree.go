// Package index implements the multi-valued-key B+Tree secondary index
// described in spec §4.5: a textbook B+Tree parametrized by max node size,
// leaves linked for range scans, each key holding a bucket of RIDs rather
// than a single value. It is grounded on the teacher's pager.BTree
// (internal/storage/pager/btree.go) for its descend/split/propagate shape,
// generalized from page-resident []byte keys to an in-memory tree of int64
// keys (spec §4.7 names no secondary-index wire format, so unlike Page/
// PageRange this structure is never persisted; the table builds an index
// by a full table scan the first time that column's index is used).
package index

import (
	"sort"
	"sync"
)

// DefaultMaxNodeSize is spec §4.5's default for secondary indices.
const DefaultMaxNodeSize = 16

type node struct {
	leaf bool

	keys []int64

	// leaf-only
	buckets [][]uint64
	next    *node
	prev    *node

	// internal-only: len(children) == len(keys)+1
	children []*node
}

// Tree is a multi-valued-key B+Tree mapping key -> []RID.
type Tree struct {
	mu          sync.RWMutex
	root        *node
	maxNodeSize int
}

// New creates an empty tree with the given node fanout (DefaultMaxNodeSize
// when maxNodeSize <= 0).
func New(maxNodeSize int) *Tree {
	if maxNodeSize <= 0 {
		maxNodeSize = DefaultMaxNodeSize
	}
	return &Tree{
		root:        &node{leaf: true},
		maxNodeSize: maxNodeSize,
	}
}

type ancestor struct {
	n        *node
	childIdx int
}

// descendPath walks from the root to the leaf that would hold key,
// recording each internal node visited and the child index taken, so
// Insert/Remove can propagate splits and balances back up without parent
// pointers.
func (t *Tree) descendPath(key int64) []ancestor {
	path := make([]ancestor, 0, 4)
	n := t.root
	for !n.leaf {
		idx := sort.Search(len(n.keys), func(i int) bool { return key < n.keys[i] })
		path = append(path, ancestor{n: n, childIdx: idx})
		n = n.children[idx]
	}
	path = append(path, ancestor{n: n, childIdx: -1})
	return path
}

// Insert adds rid to key's bucket, creating the key if absent, splitting
// nodes on overflow (spec §4.5).
func (t *Tree) Insert(key int64, rid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.descendPath(key)
	leaf := path[len(path)-1].n

	pos := sort.Search(len(leaf.keys), func(i int) bool { return leaf.keys[i] >= key })
	if pos < len(leaf.keys) && leaf.keys[pos] == key {
		leaf.buckets[pos] = appendUnique(leaf.buckets[pos], rid)
	} else {
		leaf.keys = insertKeyAt(leaf.keys, pos, key)
		leaf.buckets = insertBucketAt(leaf.buckets, pos, []uint64{rid})
	}

	if len(leaf.keys) > t.maxNodeSize {
		t.splitLeaf(path[:len(path)-1], leaf)
	}
}

func appendUnique(bucket []uint64, rid uint64) []uint64 {
	for _, r := range bucket {
		if r == rid {
			return bucket
		}
	}
	return append(bucket, rid)
}

func insertKeyAt(keys []int64, pos int, key int64) []int64 {
	keys = append(keys, 0)
	copy(keys[pos+1:], keys[pos:])
	keys[pos] = key
	return keys
}

func insertBucketAt(buckets [][]uint64, pos int, bucket []uint64) [][]uint64 {
	buckets = append(buckets, nil)
	copy(buckets[pos+1:], buckets[pos:])
	buckets[pos] = bucket
	return buckets
}

func insertChildAt(children []*node, pos int, child *node) []*node {
	children = append(children, nil)
	copy(children[pos+1:], children[pos:])
	children[pos] = child
	return children
}

// splitLeaf splits an overflowed leaf at ceil((max+1)/2) and propagates the
// new right leaf's first key up to the parent (spec §4.5).
func (t *Tree) splitLeaf(ancestors []ancestor, leaf *node) {
	splitAt := (t.maxNodeSize + 2) / 2 // ceil((max+1)/2)

	right := &node{
		leaf:    true,
		keys:    append([]int64(nil), leaf.keys[splitAt:]...),
		buckets: append([][]uint64(nil), leaf.buckets[splitAt:]...),
		next:    leaf.next,
		prev:    leaf,
	}
	if right.next != nil {
		right.next.prev = right
	}
	leaf.keys = leaf.keys[:splitAt]
	leaf.buckets = leaf.buckets[:splitAt]
	leaf.next = right

	promoted := right.keys[0]
	t.insertIntoParent(ancestors, leaf, promoted, right)
}

// insertIntoParent places newChild immediately after left under left's
// parent (or creates a new root if left was the root), splitting the
// parent on overflow per spec §4.5's even/odd parity rule.
func (t *Tree) insertIntoParent(ancestors []ancestor, left *node, sepKey int64, right *node) {
	if len(ancestors) == 0 {
		t.root = &node{
			leaf:     false,
			keys:     []int64{sepKey},
			children: []*node{left, right},
		}
		return
	}

	parentAnc := ancestors[len(ancestors)-1]
	parent := parentAnc.n
	idx := parentAnc.childIdx // index of `left` among parent.children

	parent.keys = insertKeyAt(parent.keys, idx, sepKey)
	parent.children = insertChildAt(parent.children, idx+1, right)

	if len(parent.keys) > t.maxNodeSize {
		t.splitInternal(ancestors[:len(ancestors)-1], parent)
	}
}

// splitInternal splits an overflowed internal node following spec §4.5's
// split-parity rule: even max_node_size promotes the exact middle key
// (symmetric split); odd max_node_size promotes the key one position left
// of center, so the right sibling ends up with the extra key.
func (t *Tree) splitInternal(ancestors []ancestor, n *node) {
	var mid int
	if t.maxNodeSize%2 == 0 {
		mid = len(n.keys) / 2
	} else {
		mid = (len(n.keys) - 1) / 2
	}

	promoted := n.keys[mid]

	right := &node{
		leaf:     false,
		keys:     append([]int64(nil), n.keys[mid+1:]...),
		children: append([]*node(nil), n.children[mid+1:]...),
	}
	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]

	t.insertIntoParent(ancestors, n, promoted, right)
}

// GetRID returns the bucket of RIDs stored under key, if present.
func (t *Tree) GetRID(key int64) ([]uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.root
	for !n.leaf {
		idx := sort.Search(len(n.keys), func(i int) bool { return key < n.keys[i] })
		n = n.children[idx]
	}
	pos := sort.Search(len(n.keys), func(i int) bool { return n.keys[i] >= key })
	if pos < len(n.keys) && n.keys[pos] == key {
		out := make([]uint64, len(n.buckets[pos]))
		copy(out, n.buckets[pos])
		return out, true
	}
	return nil, false
}

// BulkSearch descends to the leaf containing start, then walks leaf links
// collecting all RIDs whose key is in [start, end] (spec §4.5).
func (t *Tree) BulkSearch(start, end int64) []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.root
	for !n.leaf {
		idx := sort.Search(len(n.keys), func(i int) bool { return start < n.keys[i] })
		n = n.children[idx]
	}

	var out []uint64
	for n != nil {
		for i, k := range n.keys {
			if k > end {
				return out
			}
			if k >= start {
				out = append(out, n.buckets[i]...)
			}
		}
		n = n.next
	}
	return out
}

// FindByRID scans every leaf bucket for rid, returning the key it lives
// under. Used by deletion paths that only know the RID (spec §4.5).
func (t *Tree) FindByRID(rid uint64) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.leftmostLeaf()
	for n != nil {
		for i, bucket := range n.buckets {
			for _, r := range bucket {
				if r == rid {
					return n.keys[i], true
				}
			}
		}
		n = n.next
	}
	return 0, false
}

func (t *Tree) leftmostLeaf() *node {
	n := t.root
	for !n.leaf {
		n = n.children[0]
	}
	return n
}

// Remove deletes rid from key's bucket. If the bucket becomes empty the key
// itself is removed. If the leaf then underflows, Remove shares from or
// consolidates with a sibling, possibly propagating up to the root
// (spec §4.5).
func (t *Tree) Remove(key int64, rid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := t.descendPath(key)
	leaf := path[len(path)-1].n

	pos := sort.Search(len(leaf.keys), func(i int) bool { return leaf.keys[i] >= key })
	if pos >= len(leaf.keys) || leaf.keys[pos] != key {
		return
	}
	bucket := leaf.buckets[pos]
	for i, r := range bucket {
		if r == rid {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		leaf.keys = append(leaf.keys[:pos], leaf.keys[pos+1:]...)
		leaf.buckets = append(leaf.buckets[:pos], leaf.buckets[pos+1:]...)
	} else {
		leaf.buckets[pos] = bucket
	}

	t.balance(path[:len(path)-1], leaf)
}

func (t *Tree) minKeys() int {
	return t.maxNodeSize / 2
}

// balance restores the minimum-occupancy invariant for n after a removal,
// recursing up through ancestors as needed (spec §4.5).
func (t *Tree) balance(ancestors []ancestor, n *node) {
	if n == t.root {
		if !n.leaf && len(n.children) == 1 {
			t.root = n.children[0]
		}
		return
	}
	if len(n.keys) >= t.minKeys() {
		return
	}

	parentAnc := ancestors[len(ancestors)-1]
	parent := parentAnc.n
	idx := parentAnc.childIdx

	shareThreshold := (t.maxNodeSize + 1) / 2

	var leftSib, rightSib *node
	if idx > 0 {
		leftSib = parent.children[idx-1]
	}
	if idx+1 < len(parent.children) {
		rightSib = parent.children[idx+1]
	}

	if leftSib != nil && len(leftSib.keys) > shareThreshold {
		t.shareFromLeft(parent, idx, leftSib, n)
		return
	}
	if rightSib != nil && len(rightSib.keys) > shareThreshold {
		t.shareFromRight(parent, idx, n, rightSib)
		return
	}

	if leftSib != nil {
		t.consolidate(parent, idx-1, leftSib, n)
	} else if rightSib != nil {
		t.consolidate(parent, idx, n, rightSib)
	} else {
		return
	}

	t.balance(ancestors[:len(ancestors)-1], parent)
}

// shareFromLeft borrows the last key/child (or key/bucket) of leftSib,
// rotating through the parent separator.
func (t *Tree) shareFromLeft(parent *node, idx int, leftSib, n *node) {
	if n.leaf {
		lastKey := leftSib.keys[len(leftSib.keys)-1]
		lastBucket := leftSib.buckets[len(leftSib.buckets)-1]
		leftSib.keys = leftSib.keys[:len(leftSib.keys)-1]
		leftSib.buckets = leftSib.buckets[:len(leftSib.buckets)-1]

		n.keys = insertKeyAt(n.keys, 0, lastKey)
		n.buckets = insertBucketAt(n.buckets, 0, lastBucket)
		parent.keys[idx-1] = n.keys[0]
		return
	}
	lastKey := leftSib.keys[len(leftSib.keys)-1]
	lastChild := leftSib.children[len(leftSib.children)-1]
	leftSib.keys = leftSib.keys[:len(leftSib.keys)-1]
	leftSib.children = leftSib.children[:len(leftSib.children)-1]

	n.keys = insertKeyAt(n.keys, 0, parent.keys[idx-1])
	n.children = insertChildAt(n.children, 0, lastChild)
	parent.keys[idx-1] = lastKey
}

// shareFromRight borrows the first key/child (or key/bucket) of rightSib.
func (t *Tree) shareFromRight(parent *node, idx int, n, rightSib *node) {
	if n.leaf {
		firstKey := rightSib.keys[0]
		firstBucket := rightSib.buckets[0]
		rightSib.keys = rightSib.keys[1:]
		rightSib.buckets = rightSib.buckets[1:]

		n.keys = append(n.keys, firstKey)
		n.buckets = append(n.buckets, firstBucket)
		parent.keys[idx] = rightSib.keys[0]
		return
	}
	firstKey := rightSib.keys[0]
	firstChild := rightSib.children[0]
	rightSib.keys = rightSib.keys[1:]
	rightSib.children = rightSib.children[1:]

	n.keys = append(n.keys, parent.keys[idx])
	n.children = append(n.children, firstChild)
	parent.keys[idx] = firstKey
}

// consolidate merges right into left, dropping the separator key at
// parent.keys[sepIdx] (spec §4.5's "consolidate" balancing option).
func (t *Tree) consolidate(parent *node, sepIdx int, left, right *node) {
	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.buckets = append(left.buckets, right.buckets...)
		left.next = right.next
		if right.next != nil {
			right.next.prev = left
		}
	} else {
		left.keys = append(left.keys, parent.keys[sepIdx])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}
	parent.keys = append(parent.keys[:sepIdx], parent.keys[sepIdx+1:]...)
	parent.children = append(parent.children[:sepIdx+1], parent.children[sepIdx+2:]...)
}
