// Package identity finds raw audio for items that lost their recorded path by
// matching leading title words against downloaded file names. It is a
// heuristic and only runs when pipeline.identity_resolution is enabled.
package identity
