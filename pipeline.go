package jobpipeline

import (
	"math"
	"strconv"
	"time"
)

// Declaration defines a pipeline of named jobs bound to an event.
type Declaration map[string]any

const (
	nameKey       string = "name"
	eventKey      string = "event"
	jobsKey       string = "jobs"
	queuedKey     string = "queued"
	queueKey      string = "queue"
	connectionKey string = "connection"
	delayKey      string = "delay"
	maxTriesKey   string = "max_tries"
	spreadKey     string = "spread"

	trueStr  string = "true"
	falseStr string = "false"
)

// With pipeline value
func (d Declaration) With(name string, value any) {
	d[name] = value
}

// Name returns the pipeline name.
func (d Declaration) Name() string {
	return d.String(nameKey, "")
}

// Event the pipeline listens to, the pipeline name by default.
func (d Declaration) Event() string {
	return d.String(eventKey, d.Name())
}

// Jobs returns the names of the jobs in their order.
func (d Declaration) Jobs() []string {
	switch v := d[jobsKey].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for i := range v {
			if s, ok := v[i].(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// QueuePolicy returns the queue policy of the pipeline. A bool sets the flag, a
// string is always a queue name and queues the pipeline. ok is false when the
// policy is not set.
func (d Declaration) QueuePolicy() (isQueued bool, queueName string, ok bool) {
	switch v := d[queuedKey].(type) {
	case bool:
		return v, "", true
	case string:
		return true, v, true
	default:
		return false, "", false
	}
}

// Has checks if value presented in pipeline.
func (d Declaration) Has(name string) bool {
	_, ok := d[name]
	return ok
}

// String must return option value as string or return default value.
func (d Declaration) String(name string, def string) string {
	if value, ok := d[name]; ok {
		if str, ok := value.(string); ok && str != "" {
			return str
		}
	}

	return def
}

// Int must return option value as int or return default value.
func (d Declaration) Int(name string, def int) int {
	if value, ok := d[name]; ok {
		switch v := value.(type) {
		// the most probable case
		case string:
			res, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				// return default on failure
				return def
			}

			if res > math.MaxInt32 || res < math.MinInt32 {
				// return default if out of bounds
				return def
			}

			return int(res)
		case int:
			return v
		case int64:
			return int(v)
		case int32:
			return int(v)
		case float64:
			return int(v)
		default:
			return def
		}
	}

	return def
}

// Bool must return option value as bool or return default value.
func (d Declaration) Bool(name string, def bool) bool {
	if value, ok := d[name]; ok {
		switch v := value.(type) {
		case bool:
			return v
		case string:
			switch v {
			case trueStr:
				return true
			case falseStr:
				return false
			default:
				return def
			}
		}
	}

	return def
}

// Duration accepts a duration string ("1s", "500ms") or a number of milliseconds.
func (d Declaration) Duration(name string, def time.Duration) time.Duration {
	if value, ok := d[name]; ok {
		switch v := value.(type) {
		case string:
			dur, err := time.ParseDuration(v)
			if err != nil {
				return def
			}
			return dur
		case time.Duration:
			return v
		case int:
			return time.Duration(v) * time.Millisecond
		case int64:
			return time.Duration(v) * time.Millisecond
		case float64:
			return time.Duration(v) * time.Millisecond
		default:
			return def
		}
	}

	return def
}
