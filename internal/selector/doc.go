// Package selector owns the process-wide endpoint selection. A Selector
// resolves its initial endpoint from the page hostname, optionally overrides
// it once from persisted storage, and derives the RPC, API, websocket and
// metrics URLs for whichever endpoint is currently selected. Writes update
// memory synchronously and reach storage in the background.
package selector
