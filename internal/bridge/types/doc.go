// Package types defines the OpenAI-compatible wire shapes accepted and
// produced by the bridge: chat completion requests, buffered responses,
// streaming chunks, model listings, and the error envelope.
//
// The types are hand-written rather than imported from the openai-go SDK:
//
//  1. SERVER-SIDE vs CLIENT-SIDE: The SDK is designed for making outbound
//     API calls TO OpenAI. This service decodes inbound requests FROM
//     arbitrary OpenAI clients and only needs the subset of fields the
//     agent engine can honor.
//
//  2. FIELD PATTERNS: SDK types wrap optional fields in param.Opt[T].
//     Hand-written types use plain values and pointers, which work naturally
//     with json.NewDecoder on the request path.
//
//  3. EXTENSIONS: The request carries fields with no OpenAI equivalent
//     (session_id, enable_tools). Additive extensions are simpler to express
//     on owned types, and standard clients ignore them.
package types
