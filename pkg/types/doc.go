/*
Package types provides the core interfaces, data structures, and type definitions for StrataCache.

This package serves as the foundation for the cache system, defining the contracts
between components and the data structures shared across the codebase.

# Architecture Overview

StrataCache follows a layered architecture with well-defined interfaces between components:

	┌─────────────────────────────────────────────┐
	│               stratacache.System            │
	└─────────────────────────────────────────────┘
	          │          │          │        │
	┌─────────┴───┐ ┌────┴────┐ ┌───┴────┐ ┌─┴───────┐
	│ MultiLayer  │ │Invalid- │ │Monitor │ │ Warming │
	│   Cache     │ │ ation   │ │        │ │         │
	└──────┬──────┘ └─────────┘ └────────┘ └─────────┘
	       │
	┌──────┴──────┐
	│   Backend   │
	│ (memory /   │
	│  redis / s3)│
	└─────────────┘

# Core Interfaces

Backend:
Abstracts the durable key/value store behind the in-memory layer. Implementations
handle storage-specific details (Redis data structures, S3 object metadata) while
providing a uniform API. Backend failures are expected to degrade to cache misses.

Clock:
Injectable wall-clock source used for TTL expiry, metric timestamps and access
history, so tests can run deterministically without sleeping.

# Data Structures

CacheStats:
Point-in-time counters for a cache layer: hits, misses, evictions and expirations
are tracked separately because they answer different capacity questions.

ResourceKey:
A typed replacement for "type:id" string tags. Matching on Type alone or on
Type+ID is explicit instead of relying on string parsing.
*/
package types
