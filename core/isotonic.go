package core

import "sort"

// Point is one (x, y) observation fed into an IsotonicRegression.
type Point struct {
	X, Y float64
}

// IsotonicRegression is an ascending (monotone non-decreasing) fit over a
// set of points, computed with the pool-adjacent-violators algorithm (PAV).
// Latency is expected to be monotone in distance; isotonic regression gives
// a consistent, bias-aware estimator without assuming a parametric form
// (spec.md §4.4), grounded on the pav_regression crate used by the original
// Locutus router (original_source/crates/locutus-router/src/lib.rs).
type IsotonicRegression struct {
	// fitted holds the fit's knots, one per PAV block: sorted by
	// non-decreasing X (the block's largest X) with the block's mean Y.
	// Empty when no points were ever added.
	fitted []Point
}

// NewIsotonicRegression fits an ascending regression over points. The input
// is not mutated.
func NewIsotonicRegression(points []Point) *IsotonicRegression {
	r := &IsotonicRegression{}
	r.fit(points)
	return r
}

// Len reports the number of knots in the current fit. PAV pools each run
// of order-violating points into one knot, so Len can be smaller than the
// number of points added; points that share an X but do not violate the
// order stay separate knots.
func (r *IsotonicRegression) Len() int { return len(r.fitted) }

// AddPoints refits the regression including the new points. It keeps the
// previously fitted knots as representative points and re-runs PAV over
// knots+new points instead of replaying every raw observation. Each earlier
// knot enters the refit with weight one, whatever number of points it
// pooled, and every call re-sorts all knots, so one call costs O(k log k)
// in the knot count k; insertion is not amortized O(log n).
func (r *IsotonicRegression) AddPoints(points []Point) {
	all := make([]Point, 0, len(r.fitted)+len(points))
	all = append(all, r.fitted...)
	all = append(all, points...)
	r.fit(all)
}

// Interpolate returns the piecewise-linear value at x; values outside the
// observed range clamp to the nearest endpoint (spec.md §4.4). Returns 0 on
// an empty regression; callers should check Len() first (estimate() in
// router.go never calls Interpolate on an empty regression).
func (r *IsotonicRegression) Interpolate(x float64) float64 {
	n := len(r.fitted)
	if n == 0 {
		return 0
	}
	if n == 1 || x <= r.fitted[0].X {
		return r.fitted[0].Y
	}
	if x >= r.fitted[n-1].X {
		return r.fitted[n-1].Y
	}
	i := sort.Search(n, func(i int) bool { return r.fitted[i].X >= x })
	if r.fitted[i].X == x {
		return r.fitted[i].Y
	}
	lo, hi := r.fitted[i-1], r.fitted[i]
	t := (x - lo.X) / (hi.X - lo.X)
	return lo.Y + t*(hi.Y-lo.Y)
}

// fit runs weighted pool-adjacent-violators over points, sorted by X, and
// stores one knot per resulting block.
func (r *IsotonicRegression) fit(points []Point) {
	if len(points) == 0 {
		r.fitted = nil
		return
	}
	sorted := append([]Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	type block struct {
		xSum, ySum float64
		weight     float64
		xMin, xMax float64
	}
	blocks := make([]block, 0, len(sorted))
	for _, p := range sorted {
		b := block{xSum: p.X, ySum: p.Y, weight: 1, xMin: p.X, xMax: p.X}
		blocks = append(blocks, b)
		for len(blocks) > 1 && blocks[len(blocks)-2].ySum/blocks[len(blocks)-2].weight > blocks[len(blocks)-1].ySum/blocks[len(blocks)-1].weight {
			last := blocks[len(blocks)-1]
			blocks = blocks[:len(blocks)-1]
			prev := blocks[len(blocks)-1]
			prev.xSum += last.xSum
			prev.ySum += last.ySum
			prev.weight += last.weight
			if last.xMax > prev.xMax {
				prev.xMax = last.xMax
			}
			blocks[len(blocks)-1] = prev
		}
	}

	fitted := make([]Point, 0, len(blocks))
	for _, b := range blocks {
		fitted = append(fitted, Point{X: b.xMax, Y: b.ySum / b.weight})
	}
	r.fitted = fitted
}
