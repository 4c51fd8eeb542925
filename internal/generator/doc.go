// Package generator implements the external generation and research
// backends the resilience chain walks.
//
// Supported kinds:
//   - openai: any OpenAI-compatible /chat/completions endpoint
//   - anthropic: the Anthropic /v1/messages API
//   - perplexity: Perplexity's chat API, used for deep research; cited
//     sources are appended to the answer
//   - template: an offline provider that assembles a draft from the
//     reference answers in the payload
//
// Providers make exactly one HTTP call per Generate. Retries, breakers and
// fallback belong to the resilience chain. Non-2xx responses are returned
// as resilience.HTTPError so the chain can classify them.
package generator
