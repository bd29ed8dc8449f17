// Package artifacts is the stage artifact cache: it maps an (item, stage)
// pair to a deterministic artifact reference and checks whether that artifact
// already exists.
//
// Local artifacts count as present only when they are non-empty regular files;
// uploaded audio is checked against the object store. Writes go through a temp
// file and rename, so an interrupted stage never leaves a file that would be
// mistaken for finished output.
package artifacts
