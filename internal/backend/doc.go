/*
Package backend provides implementations of the durable key/value layer
behind the in-memory cache.

Three backends are available:

  - memory: an in-process map, the default and the test double
  - redis: go-redis backed, with per-tag sets for tag invalidation
  - s3: aws-sdk-go-v2 backed, tags and expiry carried in object metadata

All backends satisfy types.Backend. Guarded wraps any backend with a
circuit breaker so repeated failures fail fast instead of stalling
every cache read on a dead dependency. Backend failures never fail the
cache itself: the multi-layer coordinator degrades them to misses.
*/
package backend
