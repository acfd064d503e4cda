package host

import (
	"sort"
)

func asArray(v any) (*Array, error) {
	a, ok := v.(*Array)
	if !ok || a == nil {
		return nil, Throw(NullReferenceType, "null array")
	}
	return a, nil
}

// CompareArrays orders two arrays lexicographically, comparing elements
// with env.
func CompareArrays(env Env, a, b *Array) (int, error) {
	n := len(a.Data)
	if len(b.Data) < n {
		n = len(b.Data)
	}
	for i := 0; i < n; i++ {
		c, err := env.Compare(a.Data[i], b.Data[i])
		if err != nil || c != 0 {
			return c, err
		}
	}
	switch {
	case len(a.Data) < len(b.Data):
		return -1, nil
	case len(a.Data) > len(b.Data):
		return 1, nil
	}
	return 0, nil
}

func arrayCompare(env Env, args []any) (any, error) {
	a, err := asArray(args[0])
	if err != nil {
		return nil, err
	}
	b, err := asArray(args[1])
	if err != nil {
		return nil, err
	}
	c, err := CompareArrays(env, a, b)
	return int32(c), err
}

func arrayConcat(_ Env, args []any) (any, error) {
	a, err := asArray(args[0])
	if err != nil {
		return nil, err
	}
	b, err := asArray(args[1])
	if err != nil {
		return nil, err
	}
	data := make([]any, 0, len(a.Data)+len(b.Data))
	data = append(append(data, a.Data...), b.Data...)
	return &Array{Elem: a.Elem, Dims: []int{len(data)}, Data: data}, nil
}

// arraySub copies n elements from start; a negative n takes the rest.
func arraySub(_ Env, args []any) (any, error) {
	a, err := asArray(args[0])
	if err != nil {
		return nil, err
	}
	start, n := args[1].(int64), args[2].(int64)
	if n < 0 {
		n = int64(len(a.Data)) - start
	}
	if start < 0 || n < 0 || start+n > int64(len(a.Data)) {
		return nil, Throw(IndexOutOfRangeType, "sub [%d, %d) of length %d", start, start+n, len(a.Data))
	}
	data := append([]any(nil), a.Data[start:start+n]...)
	return &Array{Elem: a.Elem, Dims: []int{len(data)}, Data: data}, nil
}

func arraySort(env Env, args []any) (any, error) {
	a, err := asArray(args[0])
	if err != nil {
		return nil, err
	}
	var cmpErr error
	sort.SliceStable(a.Data, func(i, j int) bool {
		if cmpErr != nil {
			return false
		}
		c, err := env.Compare(a.Data[i], a.Data[j])
		if err != nil {
			cmpErr = err
			return false
		}
		return c < 0
	})
	return nil, cmpErr
}

func arrayReverse(_ Env, args []any) (any, error) {
	a, err := asArray(args[0])
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(a.Data)-1; i < j; i, j = i+1, j-1 {
		a.Data[i], a.Data[j] = a.Data[j], a.Data[i]
	}
	return nil, nil
}

func arrayShuffle(env Env, args []any) (any, error) {
	a, err := asArray(args[0])
	if err != nil {
		return nil, err
	}
	env.Rand().Shuffle(len(a.Data), func(i, j int) {
		a.Data[i], a.Data[j] = a.Data[j], a.Data[i]
	})
	return nil, nil
}
