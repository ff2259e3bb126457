// Package executor runs cell payloads.
//
// A Registry maps each cell type to a Runner:
//
//	code      ProcessRunner (source on stdin, e.g. "python3 -")
//	sql       SQLRunner over a go-sqlite3 database
//	ai        ProcessRunner when a command is configured, else unavailable
//	markdown  EchoRunner (source rendered as display data)
//	raw       EchoRunner
//
// Runners report failures as *ExecError so the dispatcher can record a
// structured executionFailed event.
package executor
