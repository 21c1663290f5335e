// Package embedder turns record text into fixed-width vectors.
//
// Three providers implement the Embedder interface:
//
//   - Jina AI and OpenAI share HTTPProvider, which speaks the OpenAI-compatible
//     /v1/embeddings wire format and retries 429 and 5xx responses with
//     exponential backoff.
//   - LocalProvider hashes word and character-trigram features into a signed
//     vector. It needs no network and is deterministic, which makes it the
//     default and the provider used in tests.
//
// # Provider Selection
//
// NewFromEnv picks a provider in this order:
//
//  1. RECALLKIT_EMBEDDING_PROVIDER (jina, openai, local)
//  2. JINA_API_KEY present: Jina AI
//  3. OPENAI_API_KEY present: OpenAI
//  4. Otherwise the local provider
//
// New accepts an explicit Config, which the engine builds from its own
// configuration file.
//
// # Caching
//
// Embeddings are cached by the SHA-256 of their input text. Cached values are
// copied on the way in and out so callers may mutate what they receive.
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", CacheSize: 1000})
//	if err != nil {
//	    return err
//	}
//	vec, err := embedder.Embed(ctx, emb, "how do I reset my password")
//
// # Errors
//
// Every provider failure wraps ErrProviderFailed, which in turn wraps
// types.ErrProviderUnavailable. Callers that can work without vectors test
// for the latter and carry on.
package embedder
