// Package measurement holds the measurement model, the publish-payload
// validator/normalizer, and the SQLite store for reduced measurements.
//
// A publish carries one of two kinds: RAW values are fanned out to live
// subscribers and never persisted; REDUCED values are persisted first and
// fanned out after. Normalization is all-or-nothing — a payload either
// yields a fully formed Measurement or a typed validation error.
package measurement
