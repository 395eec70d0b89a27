// Package cpubsub contains types for in-application
// publish-subscribe patterns.
//
// The [Stream] type simplifies the pattern of
// a single publisher with many concurrent subscribers,
// who all need to observe the same sequence of values.
// Endpoints use it to publish peer connection state changes.
package cpubsub
