package connection

// outboundQueue is a fixed-capacity FIFO ring of serialized frames.
// Pushing onto a full queue overwrites the oldest frame.
// Callers serialize access; the queue has no lock of its own.
type outboundQueue struct {
	buf      [][]byte
	head     int // read position
	tail     int // write position
	count    int
	capacity int

	// Stats
	dropped int64
}

// newOutboundQueue creates a queue holding at most capacity frames.
func newOutboundQueue(capacity int) *outboundQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &outboundQueue{
		buf:      make([][]byte, capacity),
		capacity: capacity,
	}
}

// Push appends a frame. Returns true if the oldest frame was dropped to make room.
func (q *outboundQueue) Push(frame []byte) bool {
	dropped := false
	if q.count == q.capacity {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % q.capacity
		q.count--
		q.dropped++
		dropped = true
	}

	q.buf[q.tail] = frame
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	return dropped
}

// Peek returns the oldest frame without removing it.
func (q *outboundQueue) Peek() ([]byte, bool) {
	if q.count == 0 {
		return nil, false
	}
	return q.buf[q.head], true
}

// Pop removes and returns the oldest frame.
func (q *outboundQueue) Pop() ([]byte, bool) {
	if q.count == 0 {
		return nil, false
	}

	frame := q.buf[q.head]
	q.buf[q.head] = nil // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	return frame, true
}

// Len returns the number of queued frames.
func (q *outboundQueue) Len() int {
	return q.count
}

// Dropped returns how many frames were lost to overflow.
func (q *outboundQueue) Dropped() int64 {
	return q.dropped
}

// Reset empties the queue.
func (q *outboundQueue) Reset() {
	for i := range q.buf {
		q.buf[i] = nil
	}
	q.head, q.tail, q.count = 0, 0, 0
}
