// Package pipeline contains the interceptors a node wraps around the base
// flow transition executor: hospital notification, logging, transition
// history and prometheus metrics.
//
// Interceptors are combined with flow.Chain. The first interceptor in the
// list is the outermost one.
package pipeline
