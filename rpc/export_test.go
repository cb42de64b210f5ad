package rpc

import (
	"time"

	"golang.org/x/time/rate"
)

const MaxLimiters = maxLimiters

func (s *Server) SetClock(now func() time.Time) { s.now = now }

func (s *Server) LimiterFor(id string) *rate.Limiter { return s.limiter(id) }

func (s *Server) LimiterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}
