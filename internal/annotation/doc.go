// Package annotation implements the annotate stage: it sends the start of an
// episode transcript to a generative model and stores the structured tags it
// returns.
//
// Every model call is followed by a fixed delay, whether it succeeded or not.
// A response that cannot be decoded still produces an artifact, the error
// variant carrying the first runes of the raw response, so the stage is not
// repeated; the aggregator skips those artifacts.
package annotation
