package wschain

// Filter decides whether an inbound message is admitted to the read queue.
type Filter func(Message) bool

type filterPipeline []Filter

// admit runs the filters in registration order; the first rejection wins.
func (p filterPipeline) admit(m Message) bool {
	for _, f := range p {
		if !f(m) {
			return false
		}
	}
	return true
}

// TextFilter admits text messages whose payload satisfies fn. Binary
// messages are discarded.
func TextFilter(fn func(string) bool) Filter {
	return func(m Message) bool {
		s, err := text(m)
		if err != nil {
			return false
		}
		return fn(s)
	}
}

// JSONFilter admits text messages that parse as JSON and satisfy fn.
func JSONFilter(fn func(any) bool) Filter {
	return func(m Message) bool {
		v, err := AsJSON(m)
		if err != nil {
			return false
		}
		return fn(v)
	}
}

// BinaryFilter admits binary messages whose payload satisfies fn. Text
// messages are discarded.
func BinaryFilter(fn func([]byte) bool) Filter {
	return func(m Message) bool {
		b, err := binary(m)
		if err != nil {
			return false
		}
		return fn(b)
	}
}
