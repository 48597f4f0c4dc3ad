package codec

import "reflect"

// mapStringAnyType decodes untyped maps as map[string]any so results
// marshal cleanly to JSON.
var mapStringAnyType = reflect.TypeOf(map[string]any(nil))
