package coordinator

// Grid builds the cross product of a and b, a-major: for every element of a,
// one item per element of b. Signal-by-interval and parameter-set-by-pair
// batches are built this way.
func Grid[A, B any](a []A, b []B, item func(x A, y B) Item) []Item {
	out := make([]Item, 0, len(a)*len(b))
	for _, x := range a {
		for _, y := range b {
			out = append(out, item(x, y))
		}
	}
	return out
}

// Each builds one item per element of xs.
func Each[T any](xs []T, item func(i int, x T) Item) []Item {
	out := make([]Item, 0, len(xs))
	for i, x := range xs {
		out = append(out, item(i, x))
	}
	return out
}
