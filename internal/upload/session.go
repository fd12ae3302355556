package upload

import (
	"math"
	"time"
)

// Session represents one in-flight chunked file upload
type Session struct {
	ID           string
	FileKey      string
	FileName     string
	FileSize     int64
	MimeType     string
	TotalChunks  int
	Chunks       map[int][]byte
	CreatedAt    time.Time
	LastActivity time.Time
}

// Received returns the number of distinct chunk indices stored
func (s *Session) Received() int {
	return len(s.Chunks)
}

// Missing returns the indices in [0, TotalChunks) that have not been received, in order
func (s *Session) Missing() []int {
	var missing []int
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := s.Chunks[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Progress returns round(100 * received / total)
func (s *Session) Progress() int {
	if s.TotalChunks <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(s.Received()) / float64(s.TotalChunks)))
}

// Clone returns a copy whose chunk map can be read without holding any store lock.
// Payload slices are shared; stored payloads are never mutated in place.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Chunks = make(map[int][]byte, len(s.Chunks))
	for index, data := range s.Chunks {
		clone.Chunks[index] = data
	}
	return &clone
}
