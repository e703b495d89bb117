// Package llm provides language model interfaces for thread classification.
// It talks to the Gemini API, with retry logic, rate limiting, and response
// caching around the raw transport.
package llm
