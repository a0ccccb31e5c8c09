// Package resolver orders plugins from their declared before/after
// constraints. Ranks are computed with a depth-bounded recursion so
// contradictory declarations still produce a deterministic total order.
package resolver
