package orderbook

// level is one price point: a FIFO of orders ordered by Seq
type level struct {
	price      int64
	total      int64 // sum of remaining qty
	count      int
	head, tail *Order
}

// push inserts o keeping Seq ascending. Orders arrive with increasing Seq, so
// the walk from the tail almost always stops immediately.
func (l *level) push(o *Order) {
	o.level = l
	l.total += o.Qty
	l.count++

	at := l.tail
	for at != nil && at.Seq > o.Seq {
		at = at.prev
	}
	if at == nil {
		o.prev, o.next = nil, l.head
		if l.head != nil {
			l.head.prev = o
		}
		l.head = o
		if l.tail == nil {
			l.tail = o
		}
		return
	}
	o.prev, o.next = at, at.next
	if at.next != nil {
		at.next.prev = o
	} else {
		l.tail = o
	}
	at.next = o
}

func (l *level) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	l.total -= o.Qty
	l.count--
	o.level, o.prev, o.next = nil, nil, nil
}

func (l *level) empty() bool { return l.head == nil }
