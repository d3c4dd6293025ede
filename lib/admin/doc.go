// Package admin serves a small HTTP API for operating a session map:
//
//	GET  /status          counters and version markers (sessionmap.Stats)
//	GET  /sessions        the live directory as JSON
//	POST /save?target=N   save up to version N (default: live) and wait for it
//	GET  /metrics         Prometheus metrics
package admin
