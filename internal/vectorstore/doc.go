// Package vectorstore provides per-tenant retrieval collections.
//
// Every data source owns two collections on the vector backend: one for
// document chunks and one for document summaries. Their names are derived
// from the data source id alone:
//
//	index_<data_source_id>          chunks
//	summary_index_<data_source_id>  summaries
//
// so no name registry is kept and two handles for the same (purpose, id)
// always address the same physical collection.
//
// # Usage
//
//	backend, err := qdrant.NewGRPCClient(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer backend.Close()
//
//	factory := vectorstore.NewFactory(backend, metadataClient, embeddingRegistry, logger)
//	size, ok, err := factory.ForChunks(7).Size(ctx)
//	if err != nil {
//	    return err
//	}
//	if !ok {
//	    // never indexed
//	}
//
// # Embedding model binding
//
// A collection must be queried with the embedding model that populated it.
// Collection resolves that model from the data source record on each
// operation instead of caching it, because the record can change.
//
// # Consistency
//
// Delete and DeleteDocument are not atomic with concurrent reads on the same
// collection. The backend's eventual consistency is accepted as is.
package vectorstore
