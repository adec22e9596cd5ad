// Package embedder generates vector embeddings for code graph entities.
//
// Three providers are supported: Jina AI and OpenAI over HTTP (with
// exponential backoff and jitter on transient failures) and a
// deterministic local fallback that needs no credentials. Entity text
// is produced by Describe, which folds structural context (role,
// supertypes, member signatures, behavioral patterns) into the embedded
// representation. A content-hash LRU cache sits in front of every
// provider.
package embedder
