package openflow

// Scanner frames messages out of one TCP direction's byte stream as it
// arrives. It is not safe for concurrent use.
type Scanner struct {
	buf []byte
	off int
}

// Feed appends newly reassembled bytes. Messages returned by earlier Next
// calls are invalidated.
func (s *Scanner) Feed(p []byte) {
	if s.off > 0 {
		n := copy(s.buf, s.buf[s.off:])
		s.buf = s.buf[:n]
		s.off = 0
	}
	s.buf = append(s.buf, p...)
}

// Next returns the next complete message. ok is false when the remaining bytes
// do not yet hold one. After ErrMalformedMessage the caller should Reset.
func (s *Scanner) Next() (msg Message, ok bool, err error) {
	rest := s.buf[s.off:]
	if len(rest) < HeaderLen {
		return Message{}, false, nil
	}
	h, err := ParseHeader(rest)
	if err != nil {
		return Message{}, false, err
	}
	if int(h.Length) > len(rest) {
		return Message{}, false, nil
	}
	s.off += int(h.Length)
	return Message{Header: h, Body: rest[HeaderLen:h.Length]}, true, nil
}

// Buffered reports how many unconsumed bytes are held.
func (s *Scanner) Buffered() int {
	return len(s.buf) - s.off
}

// Reset drops all buffered bytes.
func (s *Scanner) Reset() {
	s.buf = s.buf[:0]
	s.off = 0
}
