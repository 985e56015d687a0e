// Package middleware provides HTTP middleware for the object-finder API.
//
// Available middleware:
//   - RateLimiter: per-client token bucket limiting
//   - CORS: origin allow-list
//   - RequestLogger: request ids, access logging and panic recovery
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.PerMinute(60))
//	defer rl.Stop()
//	handler = middleware.RequestLogger(log)(middleware.CORS(origins)(rl.Middleware(mux)))
package middleware
