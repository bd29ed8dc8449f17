// Package aggregate builds the ranked cross-episode index from annotation
// artifacts.
//
// The index is recomputed from scratch every time. Build is a pure function of
// the annotations in scan order and the supplied timestamp, so the same
// artifacts always produce byte-identical output. Tags that differ only in
// case are counted under one case-folded key, and ties in a ranking keep the
// order in which the key first appeared.
package aggregate
