package sse

import (
	"errors"
	"io"
	"unicode/utf8"
)

const readChunkSize = 4096

// Stream is a pull-based iterator over the events of one response body.
// It yields each event once and cannot be restarted.
type Stream struct {
	r       io.Reader
	parser  *Parser
	pending []Event
	chunk   []byte
	carry   []byte
	err     error
}

// NewStream wraps r. Options are passed to the underlying Parser.
func NewStream(r io.Reader, opts ...Option) *Stream {
	return &Stream{
		r:      r,
		parser: NewParser(opts...),
		chunk:  make([]byte, readChunkSize),
	}
}

// Next blocks until the next event is available. It returns io.EOF once
// the body is exhausted, or the read error that ended the stream.
func (s *Stream) Next() (Event, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return nil, s.err
		}

		n, err := s.r.Read(s.chunk)
		if n > 0 {
			s.pending = append(s.pending, s.parser.Feed(s.decode(s.chunk[:n]))...)
		}
		if err != nil {
			s.parser.End()
			if errors.Is(err, io.EOF) {
				s.err = io.EOF
			} else {
				s.err = err
			}
		}
	}

	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, nil
}

// decode returns the longest valid UTF-8 prefix of carry+b, holding back a
// multi-byte rune split across reads
func (s *Stream) decode(b []byte) string {
	buf := append(s.carry, b...)
	s.carry = nil

	cut := len(buf)
	for i := 1; i < utf8.UTFMax && i <= len(buf); i++ {
		c := buf[len(buf)-i]
		if utf8.RuneStart(c) {
			if !utf8.FullRune(buf[len(buf)-i:]) {
				cut = len(buf) - i
			}
			break
		}
	}

	if cut < len(buf) {
		s.carry = append([]byte(nil), buf[cut:]...)
	}
	return string(buf[:cut])
}
