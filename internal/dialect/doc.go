// Package dialect normalizes exchange-specific message shapes into the
// canonical event model. Each supported feed dialect carries its own
// explicit side-flag mapping; the normalizer never guesses polarity
// from message content.
package dialect
