package sync

import (
	"github.com/nmxmxh/pgnstudyrelay/internal/pgn"
	"github.com/nmxmxh/pgnstudyrelay/internal/study"
)

// diffResult is the outcome of walking a chapter's treeParts against
// an incoming mainline.
type diffResult struct {
	// hasNewMoves reports that the incoming mainline extends beyond
	// what the chapter currently holds; it is also set on a divergence
	// (see diverged), whatever the two lengths.
	hasNewMoves bool
	// diverged reports an interior SAN mismatch: the chapter already
	// holds a different continuation at this ply. The relay never
	// rewrites history, so a diverged result carries no moves to send
	// this cycle.
	diverged bool
	// path is the concatenation of already-encoded node ids up to
	// (but not including) curIdx when hasNewMoves is true, and up to
	// and including curIdx when it is false.
	path string
	// curIdx is the 1-based ply index of the next move to consider —
	// the point to resume appending from when hasNewMoves is true, or
	// the final matched ply when it is not (used by step 5's terminal check).
	curIdx int
}

// diffTree locates the first divergence between an incoming mainline
// and a chapter's stored treeParts. treeParts[0] is the root (no
// move); treeParts[i] for i>=1 is ply i.
func diffTree(treeParts []study.TreeNode, mainline []pgn.Move) diffResult {
	n := len(mainline)
	if n == 0 {
		// An empty incoming mainline is a trivial prefix of any chapter.
		return diffResult{}
	}

	treeLen := len(treeParts)
	if treeLen <= 1 {
		return diffResult{hasNewMoves: true, path: "", curIdx: 1}
	}

	path := ""
	for i := 1; i < treeLen; i++ {
		cur := mainline[i-1] // ply i

		if treeParts[i].SAN != cur.SAN {
			return diffResult{hasNewMoves: true, diverged: true, path: path, curIdx: i}
		}

		if i == n {
			// cur is the last move of the incoming game: fully matched,
			// no new moves, but keep the path for step 5's terminal check.
			return diffResult{hasNewMoves: false, path: path + treeParts[i].ID, curIdx: i}
		}

		if i+1 == treeLen {
			// End of recorded tree reached but more incoming moves remain.
			path += treeParts[i].ID
			return diffResult{hasNewMoves: true, path: path, curIdx: i + 1}
		}

		path += treeParts[i].ID
	}

	// Unreachable given treeLen > 1: the i+1==treeLen branch above
	// always returns before the loop would exit normally.
	return diffResult{hasNewMoves: false, path: path}
}
