// Package cmd implements the command-line interface of dMDS.
//
// The package is organized into several subpackages:
//
//   - serve: runs the session map of a metadata node (load, autosave, admin API)
//   - sessions: inspects stored session map objects (dump, decode)
//   - util: shared flag and configuration handling (internal use)
//
// See dmds -help for a list of all commands.
package cmd
