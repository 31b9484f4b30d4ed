// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit bounds how often tool invocations may reach the
// inference engine.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// Limiter gates invocation attempts with a token bucket.
type Limiter struct {
	bucket *rate.Limiter
}

// New creates a Limiter allowing callsPerMinute invocations per minute, with
// a burst equal to that same figure (a caller can spend a full minute's
// allowance immediately after startup).
func New(callsPerMinute int) *Limiter {
	if callsPerMinute <= 0 {
		callsPerMinute = 60
	}
	every := rate.Limit(float64(callsPerMinute) / 60.0)
	return &Limiter{bucket: rate.NewLimiter(every, callsPerMinute)}
}

// Allow reports whether an invocation may proceed right now. It never
// blocks: the engine owns queuing, not this gateway.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}
