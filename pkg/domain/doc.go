// Package domain holds the core value types shared across the assistant:
// tool specs and results, protocol definitions and run outcomes, chat
// messages and source contexts.
//
// Types here carry no behavior beyond normalization helpers. Components
// communicate by exchanging these closed envelopes instead of loosely keyed
// maps, so failure paths are typed branches rather than optional-key probing.
package domain
