package args

import (
	"errors"
	"fmt"
	"reflect"
)

// ReturnTypeMatch checks that fn returns (TResult, error), (TResult), (error), or
// nothing, and that TResult is assignable to the expected result type.
func ReturnTypeMatch[TResult any](fn any) error {
	fnT := reflect.TypeOf(fn)
	if fnT == nil || fnT.Kind() != reflect.Func {
		return errors.New("not a function")
	}

	errT := reflect.TypeOf((*error)(nil)).Elem()

	switch fnT.NumOut() {
	case 0:
		return nil
	case 1:
		if fnT.Out(0).Implements(errT) {
			return nil
		}

		return checkResultType[TResult](fnT.Out(0))
	case 2:
		if !fnT.Out(1).Implements(errT) {
			return errors.New("second return value must be error")
		}

		return checkResultType[TResult](fnT.Out(0))
	default:
		return errors.New("function must return at most two values")
	}
}

func checkResultType[TResult any](out reflect.Type) error {
	resultT := reflect.TypeOf((*TResult)(nil)).Elem()

	// any accepts every result type
	if resultT.Kind() == reflect.Interface && resultT.NumMethod() == 0 {
		return nil
	}

	if !out.AssignableTo(resultT) {
		return fmt.Errorf("mismatched result type: expected %s, got %s", resultT, out)
	}

	return nil
}

// ParamsMatch checks that the given arguments are assignable to fn's parameters,
// ignoring a leading context parameter.
func ParamsMatch(fn any, args ...any) error {
	fnT := reflect.TypeOf(fn)
	if fnT == nil || fnT.Kind() != reflect.Func {
		return errors.New("not a function")
	}

	numIn := fnT.NumIn()
	offset := 0
	if numIn > 0 && (IsOwnContext(fnT.In(0)) || isContext(fnT.In(0))) {
		offset = 1
	}

	if len(args) != numIn-offset {
		return fmt.Errorf("mismatched argument count: expected %d, got %d", numIn-offset, len(args))
	}

	for i, arg := range args {
		paramT := fnT.In(i + offset)

		if arg == nil {
			switch paramT.Kind() {
			case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
				continue
			}

			return fmt.Errorf("argument %d is nil, but parameter type is %s", i, paramT)
		}

		if !reflect.TypeOf(arg).AssignableTo(paramT) {
			return fmt.Errorf("mismatched argument type for argument %d: expected %s, got %s", i, paramT, reflect.TypeOf(arg))
		}
	}

	return nil
}
