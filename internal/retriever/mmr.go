package retriever

import "company-rag/internal/vectorstore"

// MMR picks up to topK candidates by maximal marginal relevance and returns
// their positions in selection order.
//
// simToQuery[i] is the similarity of vectors[i] to the query. The first pick is
// the most relevant candidate. Each later pick maximises
// lambda*simToQuery - (1-lambda)*max similarity to the picks so far.
// Ties go to the candidate that comes first.
func MMR(simToQuery []float32, vectors [][]float32, topK int, lambda float64) []int {
	n := len(simToQuery)
	if topK > n {
		topK = n
	}
	if topK <= 0 {
		return nil
	}

	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = i
	}
	// running max similarity of each candidate to the selected set
	maxSim := make([]float64, n)
	selected := make([]int, 0, topK)

	for len(selected) < topK && len(remaining) > 0 {
		best := 0
		if len(selected) == 0 {
			for r := 1; r < len(remaining); r++ {
				if simToQuery[remaining[r]] > simToQuery[remaining[best]] {
					best = r
				}
			}
		} else {
			bestScore := score(lambda, simToQuery[remaining[0]], maxSim[remaining[0]])
			for r := 1; r < len(remaining); r++ {
				if s := score(lambda, simToQuery[remaining[r]], maxSim[remaining[r]]); s > bestScore {
					best, bestScore = r, s
				}
			}
		}

		pick := remaining[best]
		selected = append(selected, pick)
		remaining = append(remaining[:best], remaining[best+1:]...)

		for _, c := range remaining {
			sim := float64(vectorstore.Dot(vectors[c], vectors[pick]))
			if len(selected) == 1 || sim > maxSim[c] {
				maxSim[c] = sim
			}
		}
	}
	return selected
}

func score(lambda float64, simQ float32, maxSim float64) float64 {
	return lambda*float64(simQ) - (1-lambda)*maxSim
}
