package args

import (
	"context"
	"fmt"
	"reflect"

	"github.com/modflow/modflow/backend/converter"
	"github.com/modflow/modflow/backend/payload"
	"github.com/modflow/modflow/internal/sync"
)

func ArgsToInputs(c converter.Converter, args ...any) ([]payload.Payload, error) {
	inputs := make([]payload.Payload, 0)

	for _, arg := range args {
		input, err := c.To(arg)
		if err != nil {
			return nil, fmt.Errorf("converting args to inputs: %w", err)
		}
		inputs = append(inputs, input)
	}

	return inputs, nil
}

// InputsToArgs deserializes the given inputs into arguments for calling fn. The
// returned flag indicates whether fn expects a context as its first argument.
func InputsToArgs(c converter.Converter, fn reflect.Value, inputs []payload.Payload) ([]reflect.Value, bool, error) {
	addContext := false

	fnT := fn.Type()

	numArgs := fnT.NumIn()
	args := make([]reflect.Value, numArgs)

	input := 0
	for i := 0; i < numArgs; i++ {
		argT := fnT.In(i)

		// Insert context if requested
		if i == 0 && (IsOwnContext(argT) || isContext(argT)) {
			addContext = true
			continue
		}

		if input >= len(inputs) {
			return nil, false, fmt.Errorf("mismatched argument count: expected %d, got %d", numArgs, len(inputs))
		}

		arg := reflect.New(argT).Interface()
		err := c.From(inputs[input], arg)
		if err != nil {
			return nil, false, fmt.Errorf("converting inputs: %w", err)
		}

		args[i] = reflect.ValueOf(arg).Elem()

		input++
	}

	return args, addContext, nil
}

func IsOwnContext(inType reflect.Type) bool {
	contextElem := reflect.TypeOf((*sync.Context)(nil)).Elem()
	return inType != nil && inType.Implements(contextElem)
}

func isContext(inType reflect.Type) bool {
	contextElem := reflect.TypeOf((*context.Context)(nil)).Elem()
	return inType != nil && inType.Implements(contextElem)
}
