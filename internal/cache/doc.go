// Package cache provides the in-process TTL store for challenges,
// sessions and replay markers. It is injected as a capability into the
// components that need it so tests can substitute their own instance.
package cache
