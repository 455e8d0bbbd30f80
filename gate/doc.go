// Package gate provides run admission control: a concurrency cap and a
// token-bucket rate limit applied when runs start or resume.
//
// # Configuration
//
// Use [Config] to set the admission limits:
//
//	gate.Config{
//	    MaxConcurrency: 32,   // max 32 runs executing at once
//	    RateLimit:      10,   // max 10 run starts/s
//	    RateBurst:      20,   // allow bursts up to 20
//	}
//
// # Manager
//
// [Manager] enforces the limits at start and resume time. It uses a
// token-bucket rate limiter (golang.org/x/time/rate) and an active-count
// gate for the concurrency cap.
//
//	m := gate.NewManager(cfg)
//	if m.Acquire() {
//	    defer m.Release()
//	    // execute the run
//	}
//
// The orchestrator holds a slot for the whole time a run executes and
// releases it when the run pauses for approval or reaches a terminal
// state, so a paused run does not occupy capacity.
package gate
