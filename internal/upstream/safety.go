package upstream

import (
	"crypto/sha256"
	"time"
)

// StreamSafetyChecker detects repeated chunks and stalled streams so a
// misbehaving backend cannot loop a client connection forever.
type StreamSafetyChecker struct {
	lastChunkHash [32]byte
	repeatCount   int
	maxRepeats    int
	lastChunkTime time.Time
	streamTimeout time.Duration
}

// NewStreamSafetyChecker creates a checker with the default limits:
// 10 consecutive identical chunks, 5 minutes between chunks.
func NewStreamSafetyChecker() *StreamSafetyChecker {
	return &StreamSafetyChecker{
		maxRepeats:    10,
		streamTimeout: 5 * time.Minute,
	}
}

// CheckChunk validates a stream chunk. If abort is true the stream should be
// terminated with the given reason.
func (s *StreamSafetyChecker) CheckChunk(data []byte) (abort bool, reason string) {
	now := time.Now()

	if !s.lastChunkTime.IsZero() && now.Sub(s.lastChunkTime) > s.streamTimeout {
		return true, "stream timeout exceeded"
	}
	s.lastChunkTime = now

	if len(data) == 0 {
		return false, ""
	}

	hash := sha256.Sum256(data)
	if hash == s.lastChunkHash {
		s.repeatCount++
		if s.repeatCount >= s.maxRepeats {
			return true, "repeated chunk detected"
		}
	} else {
		s.repeatCount = 0
		s.lastChunkHash = hash
	}

	return false, ""
}

// Reset clears the checker state for reuse.
func (s *StreamSafetyChecker) Reset() {
	s.lastChunkHash = [32]byte{}
	s.repeatCount = 0
	s.lastChunkTime = time.Time{}
}
