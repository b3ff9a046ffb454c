package evaluator

// AggregateMetrics summarizes correctness and throughput over a result
// list. Always recomputed from the list it describes, never persisted
// on its own.
type AggregateMetrics struct {
	TotalDataPoints     int     `json:"total_data_points"`
	CorrectCount        int     `json:"correct_count"`
	SuccessRate         float64 `json:"success_rate"`
	ErrorCount          int     `json:"error_count"`
	MeanTokensGenerated float64 `json:"mean_tokens_generated"`
	MeanResponseTime    float64 `json:"mean_response_time"`
	MeanTokensPerSecond float64 `json:"mean_tokens_per_second"`
}

// PerfMetrics compares the batch's wall-clock shape against sequential
// execution: sequential time is the sum of per-item times, parallel
// time the single slowest item.
type PerfMetrics struct {
	TotalResponseTime float64 `json:"total_response_time"`
	SequentialTime    float64 `json:"estimated_sequential_time"`
	ParallelTime      float64 `json:"estimated_parallel_time"`
	Speedup           float64 `json:"estimated_speedup"`
}

// Aggregate computes aggregate metrics for a result list. An empty list
// yields a zero-valued metrics object; every mean is guarded against
// division by zero.
func Aggregate(results []Result) AggregateMetrics {
	m := AggregateMetrics{TotalDataPoints: len(results)}
	if len(results) == 0 {
		return m
	}

	var tokens, respTime, tps float64
	for _, r := range results {
		if r.Correct {
			m.CorrectCount++
		}
		if r.Error != "" {
			m.ErrorCount++
		}
		tokens += float64(r.TokensGenerated)
		respTime += r.ResponseTime
		tps += r.TokensPerSecond
	}

	n := float64(len(results))
	m.SuccessRate = float64(m.CorrectCount) / n
	m.MeanTokensGenerated = tokens / n
	m.MeanResponseTime = respTime / n
	m.MeanTokensPerSecond = tps / n

	return m
}

// Performance computes parallel-execution metrics for a result list.
// Speedup is 1 when the parallel time is zero.
func Performance(results []Result) PerfMetrics {
	var p PerfMetrics
	for _, r := range results {
		p.TotalResponseTime += r.ResponseTime
		if r.ResponseTime > p.ParallelTime {
			p.ParallelTime = r.ResponseTime
		}
	}

	p.SequentialTime = p.TotalResponseTime
	if p.ParallelTime > 0 {
		p.Speedup = p.SequentialTime / p.ParallelTime
	} else {
		p.Speedup = 1
	}

	return p
}
