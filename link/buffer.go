package link

// SendBuffer is the FIFO of frames waiting for a link's downlink. With a
// zero limit the buffer grows without bound.
type SendBuffer struct {
	frames [][]byte
	head   int
	bytes  int
	limit  int
}

// NewSendBuffer creates a buffer holding at most limit frames. A limit of
// zero or less leaves it unbounded.
func NewSendBuffer(limit int) *SendBuffer {
	if limit < 0 {
		limit = 0
	}
	return &SendBuffer{limit: limit}
}

// Push appends frame to the back of the buffer. It reports false and keeps
// the buffer unchanged when the buffer is full.
func (b *SendBuffer) Push(frame []byte) bool {
	if b.limit > 0 && b.Len() >= b.limit {
		return false
	}
	b.frames = append(b.frames, frame)
	b.bytes += len(frame)
	return true
}

// Front returns the frame at the head of the buffer without removing it.
func (b *SendBuffer) Front() ([]byte, bool) {
	if b.head >= len(b.frames) {
		return nil, false
	}
	return b.frames[b.head], true
}

// Pop removes the frame at the head of the buffer.
func (b *SendBuffer) Pop() {
	if b.head >= len(b.frames) {
		return
	}
	b.bytes -= len(b.frames[b.head])
	b.frames[b.head] = nil
	b.head++

	switch {
	case b.head == len(b.frames):
		b.frames = b.frames[:0]
		b.head = 0
	case b.head >= 64 && b.head*2 >= len(b.frames):
		n := copy(b.frames, b.frames[b.head:])
		clear(b.frames[n:])
		b.frames = b.frames[:n]
		b.head = 0
	}
}

// Len returns the number of queued frames.
func (b *SendBuffer) Len() int {
	return len(b.frames) - b.head
}

// Bytes returns the number of queued bytes.
func (b *SendBuffer) Bytes() int {
	return b.bytes
}

// Reset discards every queued frame.
func (b *SendBuffer) Reset() {
	clear(b.frames)
	b.frames = nil
	b.head = 0
	b.bytes = 0
}
