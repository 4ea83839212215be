// Package news defines the core types shared across the aggregator and the
// ports through which it reaches feeds, documents, the index and the stores
// a built index is exported to.
package news
