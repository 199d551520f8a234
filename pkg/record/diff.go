// Package record turns working-copy edits into changes: it diffs the
// retrieved file against the on-disk bytes, maps every hunk back to
// graph positions and emits the smallest change whose application
// reproduces the edit.
package record

import (
	"bytes"

	"github.com/zeebo/xxh3"
)

// editOp is one run of a line edit script.
type editOp int

const (
	opEqual editOp = iota
	opDelete
	opInsert
)

// edit covers a[aStart:aEnd] and b[bStart:bEnd]. For opDelete bEnd ==
// bStart, for opInsert aEnd == aStart.
type edit struct {
	op           editOp
	aStart, aEnd int
	bStart, bEnd int
}

// splitLines cuts b into lines, each keeping its terminator. A final
// unterminated line is kept as-is.
func splitLines(b []byte) [][]byte {
	var out [][]byte
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			out = append(out, b)
			break
		}
		out = append(out, b[:i+1])
		b = b[i+1:]
	}
	return out
}

// diffLines computes a minimal line edit script from a to b using the
// greedy O(ND) algorithm. The result is deterministic for given
// inputs, which recording requires: the same edit must produce the
// same change bytes everywhere.
func diffLines(a, b [][]byte) []edit {
	ha := hashLines(a)
	hb := hashLines(b)
	n, m := len(ha), len(hb)
	if n == 0 && m == 0 {
		return nil
	}

	max := n + m
	v := make(map[int]int, max)
	v[1] = 0
	var trace []map[int]int
	var found bool

	for d := 0; d <= max && !found; d++ {
		snapshot := make(map[int]int, len(v))
		for k, x := range v {
			snapshot[k] = x
		}
		trace = append(trace, snapshot)
		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[k-1] < v[k+1]) {
				x = v[k+1]
			} else {
				x = v[k-1] + 1
			}
			y := x - k
			for x < n && y < m && ha[x] == hb[y] {
				x++
				y++
			}
			v[k] = x
			if x >= n && y >= m {
				found = true
				break
			}
		}
	}

	ops := backtrack(trace, ha, hb)
	return coalesce(ops)
}

func hashLines(lines [][]byte) []uint64 {
	out := make([]uint64, len(lines))
	for i, l := range lines {
		out[i] = xxh3.Hash(l)
	}
	return out
}

// pointOp is a single-line step, coalesced into runs afterwards.
type pointOp struct {
	op   editOp
	a, b int
}

func backtrack(trace []map[int]int, ha, hb []uint64) []pointOp {
	var ops []pointOp
	x, y := len(ha), len(hb)
	for d := len(trace) - 1; d >= 0 && (x > 0 || y > 0); d-- {
		v := trace[d]
		k := x - y
		var prevK int
		if k == -d || (k != d && v[k-1] < v[k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := v[prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			ops = append(ops, pointOp{op: opEqual, a: x, b: y})
		}
		if d > 0 {
			if x == prevX {
				y--
				ops = append(ops, pointOp{op: opInsert, a: x, b: y})
			} else {
				x--
				ops = append(ops, pointOp{op: opDelete, a: x, b: y})
			}
		}
	}
	// reverse into forward order
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}

func coalesce(ops []pointOp) []edit {
	var out []edit
	for _, p := range ops {
		if n := len(out); n > 0 && out[n-1].op == p.op &&
			out[n-1].aEnd == p.a && out[n-1].bEnd == p.b {
			e := &out[n-1]
			if p.op != opInsert {
				e.aEnd = p.a + 1
			}
			if p.op != opDelete {
				e.bEnd = p.b + 1
			}
			continue
		}
		e := edit{op: p.op, aStart: p.a, aEnd: p.a, bStart: p.b, bEnd: p.b}
		if p.op != opInsert {
			e.aEnd = p.a + 1
		}
		if p.op != opDelete {
			e.bEnd = p.b + 1
		}
		out = append(out, e)
	}
	return out
}
