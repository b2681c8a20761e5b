package eventclient

import (
	"reflect"
)

// Envelope passed as the only emitted argument sets publish data explicitly,
// bypassing argument inference.
type Envelope struct {
	Data any
}

// publishData infers publish data from arguments emitted on the local bus:
//   - no arguments: nil
//   - a single Envelope: its Data
//   - a single argument: that argument
//   - a string tag followed by one structured value: the value
//   - anything else: all arguments, without a leading emitter name
func publishData(emitterName string, args []any) any {
	switch len(args) {
	case 0:
		return nil
	case 1:
		if env, ok := args[0].(Envelope); ok {
			return env.Data
		}
		return args[0]
	}
	if _, ok := args[0].(string); ok && len(args) == 2 && isStructured(args[1]) {
		return args[1]
	}
	if name, ok := args[0].(string); ok && emitterName != "" && name == emitterName {
		return args[1:]
	}
	return args
}

func isStructured(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		return true
	default:
		return false
	}
}
