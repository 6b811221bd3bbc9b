// Package crawler implements the resumable snowball crawl engine: frontier
// expansion, record deduplication, cache-first retrieval, classification and
// periodic checkpointing. Payload semantics live behind the collaborator
// interfaces in interfaces.go.
package crawler
