// Package api exposes the HTTP interface for the ingestion service: crawl
// admission, queue inspection, orphan reconciliation, and the progress event
// stream.
package api
