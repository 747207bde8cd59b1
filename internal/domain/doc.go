// Package domain defines the core domain types and interfaces.
//
// Direct-message events, the transport and poster contracts consumed by the
// dispatcher, and shared sentinel errors. No implementation code - just contracts.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
