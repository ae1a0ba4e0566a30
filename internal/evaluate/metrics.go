package evaluate

import "math"

// MAE is the mean absolute error between predictions and actuals.
func MAE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	var sum float64
	for i := range yTrue {
		sum += math.Abs(yPred[i] - yTrue[i])
	}
	return sum / float64(len(yTrue))
}

// RMSE is the root mean squared error between predictions and actuals.
func RMSE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	var sum float64
	for i := range yTrue {
		r := yPred[i] - yTrue[i]
		sum += r * r
	}
	return math.Sqrt(sum / float64(len(yTrue)))
}

// MAPE is the mean absolute percentage error, restricted to rows with a
// non-zero actual. Returns 0 when every actual is zero.
func MAPE(yTrue, yPred []float64) float64 {
	var sum float64
	var n int
	for i := range yTrue {
		if yTrue[i] == 0 {
			continue
		}
		sum += math.Abs(yPred[i]-yTrue[i]) / math.Abs(yTrue[i])
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// std is the population standard deviation, matching how fold scores
// are aggregated.
func std(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
