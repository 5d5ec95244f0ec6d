// Package llm wraps OpenAI-compatible chat completion endpoints behind a
// JSON-only client with retry and a provider fallback chain.
//
// Every call requests a JSON object response and decodes it tolerantly:
// providers occasionally wrap payloads in code fences or prose despite the
// response_format hint, so DecodeJSON strips fences and extracts the first
// JSON object or array before giving up.
//
// A Chain holds one client per configured provider and tries them in
// declared order. A provider is skipped only after its own retry budget is
// exhausted; validation failures (missing prompts, missing key) are not
// retried anywhere.
package llm
