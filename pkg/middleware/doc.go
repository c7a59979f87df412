// Package middleware provides rate limiting for module routes. Modules opt
// in by listing "ratelimit" in a route's middleware.
//
// RateLimiter keeps token buckets in memory; DistributedRateLimiter counts
// fixed windows in Redis so several hosts share one budget:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, "")
//	registry.Register("ratelimit", middleware.RateLimit(limiter, middleware.RateLimitOptions{Logger: log}))
package middleware
