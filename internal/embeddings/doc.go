// Package embeddings turns text into vectors through named, configured models.
//
// Every provider variant (openai-compatible endpoints, ollama,
// in-process ONNX models through fastembed) sits behind the
// Model interface and is selected by the provider field of its config entry.
// A Registry maps the names that data sources refer to onto built models.
//
// A collection must always be queried with the model that populated it, so
// callers resolve the model by name on every operation rather than holding on
// to a Model across requests.
package embeddings
