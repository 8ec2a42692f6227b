package codec

import (
	"reflect"
	"time"

	"github.com/goccy/go-json"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/goridge/v3/pkg/frame"
	"github.com/roadrunner-server/jobpipeline/v5/pipeline"
)

const (
	word = 4
	// header is three words long
	minFrameLen int = 3 * word
)

var (
	// ErrNotSerializable is returned for an executable holding an inline job.
	ErrNotSerializable = errors.Str("inline jobs can't be serialized, register the function and use pipeline.Func")
	// ErrCorrupted is returned for a frame which doesn't pass the checks.
	ErrCorrupted = errors.Str("corrupted executable frame")
)

// TypeRegistry maps the passable types to names and back.
type TypeRegistry interface {
	TypeByName(name string) (reflect.Type, bool)
	NameOf(t reflect.Type) (string, bool)
}

// Arg is a typed passable value.
type Arg struct {
	Type  string          `json:"type,omitempty"`
	Ptr   bool            `json:"ptr,omitempty"`
	Value json.RawMessage `json:"value"`
}

type descriptor struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

type routing struct {
	Queue      string `json:"queue,omitempty"`
	Connection string `json:"connection,omitempty"`
	DelayMs    int64  `json:"delay_ms,omitempty"`
	MaxTries   int    `json:"max_tries,omitempty"`
}

type envelope struct {
	ID       string       `json:"id"`
	Jobs     []descriptor `json:"jobs"`
	Passable []Arg        `json:"passable"`
	Queued   bool         `json:"queued"`
	Routing  routing      `json:"routing"`
}

type Codec struct {
	types TypeRegistry
}

func New(types TypeRegistry) *Codec {
	return &Codec{types: types}
}

// Marshal encodes the executable into a frame.
func (c *Codec) Marshal(exe *pipeline.Executable) ([]byte, error) {
	const op = errors.Op("codec_marshal")

	env := &envelope{
		ID:     exe.ID,
		Jobs:   make([]descriptor, 0, len(exe.Jobs)),
		Queued: exe.Queued,
		Routing: routing{
			Queue:      exe.Routing.Queue,
			Connection: exe.Routing.Connection,
			DelayMs:    exe.Routing.Delay.Milliseconds(),
			MaxTries:   exe.Routing.MaxTries,
		},
	}

	for i := range exe.Jobs {
		if exe.Jobs[i].Kind() == pipeline.KindInline {
			return nil, ErrNotSerializable
		}

		env.Jobs = append(env.Jobs, descriptor{Kind: exe.Jobs[i].Kind().String(), Name: exe.Jobs[i].Name()})
	}

	var err error
	env.Passable, err = c.EncodeArgs(exe.Passable)
	if err != nil {
		return nil, errors.E(op, err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, errors.E(op, err)
	}

	fr := frame.NewFrame()
	fr.WriteVersion(fr.Header(), frame.Version1)
	fr.WriteFlags(fr.Header(), frame.CodecJSON)
	fr.WritePayloadLen(fr.Header(), uint32(len(body))) //nolint:gosec
	fr.WritePayload(body)
	fr.WriteCRC(fr.Header())

	return fr.Bytes(), nil
}

// Unmarshal decodes the frame into a fresh executable.
func (c *Codec) Unmarshal(data []byte) (*pipeline.Executable, error) {
	const op = errors.Op("codec_unmarshal")
	if len(data) < minFrameLen {
		return nil, ErrCorrupted
	}

	// header length in words, the lower nibble of the first byte
	if hl := int(data[0] & 0x0F); len(data) < max(hl, 3)*word {
		return nil, ErrCorrupted
	}

	// ReadFrame modifies the buffer
	buf := make([]byte, len(data))
	copy(buf, data)

	fr := frame.ReadFrame(buf)
	if !fr.VerifyCRC(fr.Header()) {
		return nil, ErrCorrupted
	}

	if fr.ReadFlags()&frame.CodecJSON == 0 {
		return nil, errors.E(op, errors.Str("frame is not JSON encoded"))
	}

	pl := fr.Payload()
	if l := fr.ReadPayloadLen(fr.Header()); int(l) <= len(pl) {
		pl = pl[:l]
	} else {
		return nil, ErrCorrupted
	}

	env := &envelope{}
	err := json.Unmarshal(pl, env)
	if err != nil {
		return nil, errors.E(op, err)
	}

	exe := &pipeline.Executable{
		ID:     env.ID,
		Jobs:   make([]pipeline.Descriptor, 0, len(env.Jobs)),
		Queued: env.Queued,
		Routing: pipeline.Routing{
			Queue:      env.Routing.Queue,
			Connection: env.Routing.Connection,
			Delay:      time.Duration(env.Routing.DelayMs) * time.Millisecond,
			MaxTries:   env.Routing.MaxTries,
		},
	}

	for i := range env.Jobs {
		switch env.Jobs[i].Kind {
		case pipeline.KindNamed.String():
			exe.Jobs = append(exe.Jobs, pipeline.Named(env.Jobs[i].Name))
		case pipeline.KindFunc.String():
			exe.Jobs = append(exe.Jobs, pipeline.Func(env.Jobs[i].Name))
		default:
			return nil, errors.E(op, errors.Errorf("unknown job kind: %s", env.Jobs[i].Kind))
		}
	}

	exe.Passable, err = c.DecodeArgs(env.Passable)
	if err != nil {
		return nil, errors.E(op, err)
	}

	return exe, nil
}

// EncodeArgs encodes the values with their registered type names.
func (c *Codec) EncodeArgs(args []any) ([]Arg, error) {
	out := make([]Arg, 0, len(args))
	for i := range args {
		if args[i] == nil {
			out = append(out, Arg{Value: json.RawMessage("null")})
			continue
		}

		t := reflect.TypeOf(args[i])
		ptr := t.Kind() == reflect.Pointer
		if ptr {
			t = t.Elem()
		}

		name, ok := c.types.NameOf(t)
		if !ok {
			return nil, errors.Errorf("passable #%d: type %s is not registered", i, t)
		}

		data, err := json.Marshal(args[i])
		if err != nil {
			return nil, errors.Errorf("passable #%d: %v", i, err)
		}

		out = append(out, Arg{Type: name, Ptr: ptr, Value: data})
	}

	return out, nil
}

// DecodeArgs restores the typed values.
func (c *Codec) DecodeArgs(args []Arg) ([]any, error) {
	out := make([]any, 0, len(args))
	for i := range args {
		if args[i].Type == "" {
			out = append(out, nil)
			continue
		}

		t, ok := c.types.TypeByName(args[i].Type)
		if !ok {
			return nil, errors.Errorf("passable #%d: type %s is not registered", i, args[i].Type)
		}

		if args[i].Ptr && isNull(args[i].Value) {
			out = append(out, reflect.Zero(reflect.PointerTo(t)).Interface())
			continue
		}

		pv := reflect.New(t)
		if len(args[i].Value) > 0 {
			err := json.Unmarshal(args[i].Value, pv.Interface())
			if err != nil {
				return nil, errors.Errorf("passable #%d: %v", i, err)
			}
		}

		if args[i].Ptr {
			out = append(out, pv.Interface())
			continue
		}
		out = append(out, pv.Elem().Interface())
	}

	return out, nil
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || string(v) == "null"
}
