package repository

import "math/rand/v2"

// Treap ordered by ranking: less(a, b) means a ranks before b (higher score
// first, key ascending on ties), so an in-order walk yields the leaderboard.

type node struct {
	key   string
	score float64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func less(aScore float64, aKey string, bScore float64, bKey string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aKey < bKey
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, key string, score float64) *node {
	if n == nil {
		return &node{key: key, score: score, prio: rand.Uint64(), size: 1}
	}
	if less(score, key, n.score, n.key) {
		n.left = insert(n.left, key, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, key, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, key string, score float64) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && key == n.key:
		// Rotate the higher-priority child up until the node becomes a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, key, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, key, score)
		}
	case less(score, key, n.score, n.key):
		n.left = deleteNode(n.left, key, score)
	default:
		n.right = deleteNode(n.right, key, score)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit entries in rank order. limit <= 0 collects all.
func collectTopN(n *node, limit int, byKey map[string]Entry, out *[]Entry) {
	if n == nil || (limit > 0 && len(*out) >= limit) {
		return
	}
	collectTopN(n.left, limit, byKey, out)
	if limit <= 0 || len(*out) < limit {
		if e, ok := byKey[n.key]; ok {
			*out = append(*out, e)
		}
	}
	collectTopN(n.right, limit, byKey, out)
}
