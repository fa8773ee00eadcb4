// Package core defines the shared contracts of the hybrid retrieval engine:
// the VectorStore and KeywordIndex interfaces, the record and result types,
// the metadata filter algebra, and the error and logging conventions every
// backend follows. Backends live in sibling packages (sqlite, postgres,
// qdrant) and are selected through the hybridstore factory.
package core
