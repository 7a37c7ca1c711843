// Package transport carries the pull protocol over HTTP.
//
// Routes (gorilla/mux):
//
//	GET /v1/site                              {"site":"<hex>","db_version":N}
//	GET /v1/changes?site=<hex>&since=N[&limit=N]   ir.Batch as JSON
//	GET /v1/notify                            websocket commit notices
//	GET /healthz                              ok
//	GET /metrics                              Prometheus exposition
//
// A client that sends "Accept-Encoding: snappy" receives the changes body
// snappy block-compressed with "Content-Encoding: snappy".
package transport
