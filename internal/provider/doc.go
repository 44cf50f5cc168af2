/*
Package provider translates the canonical conversation model to and from AI
vendor APIs.

An Adapter is one vendor:model pair. Registry.Resolve parses the identifier
(exactly one ":"; the model half is passed through untouched, slashes
included), validates the model, and constructs the adapter through the
vendor's Factory:

	anthropic   eino claude component, cost from the price table, prompt caching
	openai      eino openai component, cost from the price table
	ark         eino ark component, cost from the price table or config pricing
	openrouter  direct HTTP, cost reported by the vendor

Vendors priced from the table fail closed: a model without an entry is
rejected with ErrUnknownModel instead of being billed at zero.

Every adapter returned by a Registry retries rate-limit and network failures
with exponential backoff (see WithRetry). Failures are *Error values with a
Kind; callers treat them as recoverable at the turn level.
*/
package provider
