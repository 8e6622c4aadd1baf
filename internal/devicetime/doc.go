// Package devicetime translates device clock timestamps into host time.
//
// Responsibilities: unwrapping bounded free-running device counters into
// unbounded tick counts, and estimating the affine device→host clock
// relation online with one of several filters (None, ConvexHull, Kalman).
// Key types: Unwrapper, ClockFilter, Translator, UnwrapperAndTranslator.
//
// Concurrency: every type in this package is single-writer. Update,
// unwrap and SetFilterAlgorithm calls on one instance must come from one
// producer, in device event order. Translate and IsReadyToTranslate are
// read-only and may run concurrently with each other, but not with a
// writer unless the caller serialises access.
//
// Host time is expressed as float64 seconds. The package does not care
// about the epoch; see timeutil.HostSeconds for the time.Time conversion.
package devicetime
