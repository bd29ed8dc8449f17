// Package logs reads the pipeline log file for the `castindex logs` command.
//
// Last returns the final lines of the file with bounded memory, and Follow
// polls for appended lines until its context ends. Both tolerate a missing
// file so the command works before the first run has written anything.
package logs
