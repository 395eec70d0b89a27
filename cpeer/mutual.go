package cpeer

import "context"

// MutuallyConnected evaluates every connectivity check for a and b once,
// without waiting, and reports whether they all hold.
//
// It returns an error only for an unsupported pairing
// or a check that failed fatally.
func MutuallyConnected(ctx context.Context, a, b Endpoint) (bool, error) {
	checks, err := a.ConnectivityChecks(b)
	if err != nil {
		return false, err
	}

	for _, c := range checks {
		res := c.Predicate(ctx)
		if res.IsFatal() {
			return false, res.Err()
		}
		if !res.IsOk() {
			return false, nil
		}
	}

	return true, nil
}
