package jobpipeline

import (
	"time"
)

// Item is a serialized pipeline executable travelling through the queue.
type Item struct {
	// Ident is the executable ID
	Ident string `json:"id"`

	// Pld is the encoded executable
	Pld []byte `json:"payload"`

	// Headers with key-value pairs, carry the trace context
	Hdr map[string][]string `json:"headers"`

	// Options contains the routing of the executable and the delivery state.
	Options *Options `json:"options,omitempty"`

	// driver which delivered the item
	drv Driver
	// stop marker for the pollers
	stop bool
}

// Options carry information about how to deliver the item.
type Options struct {
	// Priority is the queue priority, default - 10
	Priority int64 `json:"priority"`

	// Queue name from the routing.
	Queue string `json:"queue,omitempty"`

	// Connection name from the routing.
	Connection string `json:"connection,omitempty"`

	// Delay in milliseconds before the item becomes available. Defaults to none.
	Delay int64 `json:"delay,omitempty"`

	// Attempt is the current attempt, starting at 1
	Attempt int `json:"attempt"`

	// MaxTries bounds the attempts
	MaxTries int `json:"max_tries"`
}

// DelayDuration returns delay duration in a form of time.Duration.
func (o *Options) DelayDuration() time.Duration {
	return time.Millisecond * time.Duration(o.Delay)
}

func (i *Item) ID() string {
	return i.Ident
}

// GroupID of the item is its connection.
func (i *Item) GroupID() string {
	if i.Options == nil {
		return ""
	}

	return i.Options.Connection
}

func (i *Item) Priority() int64 {
	if i.Options == nil {
		return defaultPriority
	}

	return i.Options.Priority
}

func (i *Item) Queue() string {
	if i.Options == nil {
		return ""
	}

	return i.Options.Queue
}

func (i *Item) Attempt() int {
	if i.Options == nil {
		return 1
	}

	return i.Options.Attempt
}

func (i *Item) MaxTries() int {
	if i.Options == nil {
		return 1
	}

	return i.Options.MaxTries
}

func (i *Item) Payload() []byte {
	return i.Pld
}

func (i *Item) Headers() map[string][]string {
	return i.Hdr
}

func (i *Item) Ack() error {
	return i.drv.Ack(i)
}

func (i *Item) Nack() error {
	return i.drv.Nack(i)
}

func (i *Item) Requeue(delay time.Duration) error {
	return i.drv.Requeue(i, delay)
}
