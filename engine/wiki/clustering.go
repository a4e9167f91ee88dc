package wiki

import (
	"context"
	"fmt"
	"math"

	"github.com/constructionrag/ragcore/engine/adapters"
	"github.com/constructionrag/ragcore/engine/domain"
)

// fallbackClusterNames is used when the chat model's naming call fails; it
// keeps the Structure stage supplied with stable, if generic, names.
var fallbackClusterNames = []string{
	"General Requirements", "Systems Overview", "Materials and Specifications",
	"Installation Procedures", "Safety and Compliance", "Testing and Inspection",
	"Maintenance", "Project Administration", "Standards and References", "Miscellaneous",
}

// ClusterChunks groups a run's embedded chunks into k = clamp(total/20, min,
// max) clusters via Lloyd's-algorithm k-means, then asks the chat model to
// name each cluster from its three centroid-nearest exemplars, falling back
// to a deterministic name on failure.
func ClusterChunks(ctx context.Context, chat adapters.ChatClient, chatModel string, chunks []domain.Chunk, minClusters, maxClusters int) ([]Cluster, error) {
	embedded := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Embedding != nil {
			embedded = append(embedded, c)
		}
	}
	if len(embedded) == 0 {
		return nil, nil
	}

	k := len(embedded) / 20
	if k < minClusters {
		k = minClusters
	}
	if k > maxClusters {
		k = maxClusters
	}
	if k > len(embedded) {
		k = len(embedded)
	}

	assignments, centroids := kmeans(embedded, k)

	groups := make([][]int, k)
	for i, a := range assignments {
		groups[a] = append(groups[a], i)
	}

	clusters := make([]Cluster, 0, k)
	for ci, members := range groups {
		if len(members) == 0 {
			continue
		}
		exemplarIdx := nearestToCentroid(embedded, members, centroids[ci], 3)

		var exemplarContent []string
		var exemplarIDs []string
		var chunkIDs []string
		for _, idx := range members {
			chunkIDs = append(chunkIDs, embedded[idx].ID)
		}
		for _, idx := range exemplarIdx {
			exemplarContent = append(exemplarContent, embedded[idx].Content)
			exemplarIDs = append(exemplarIDs, embedded[idx].ID)
		}

		name := nameCluster(ctx, chat, chatModel, exemplarContent, ci)
		clusters = append(clusters, Cluster{Name: name, Exemplars: exemplarIDs, ChunkIDs: chunkIDs})
	}
	return clusters, nil
}

func nameCluster(ctx context.Context, chat adapters.ChatClient, model string, exemplars []string, index int) string {
	if chat == nil || len(exemplars) == 0 {
		return fallbackName(index)
	}
	prompt := "Give a short (2-5 word) title for the topic these excerpts have in common:\n\n"
	for _, e := range exemplars {
		prompt += "---\n" + truncate(e, 400) + "\n"
	}
	name, err := chat.Chat(ctx, prompt, adapters.ChatOptions{Model: model, Temperature: 0.1, MaxTokens: 20})
	if err != nil || name == "" {
		return fallbackName(index)
	}
	return truncate(name, 60)
}

func fallbackName(index int) string {
	if index < len(fallbackClusterNames) {
		return fallbackClusterNames[index]
	}
	return fmt.Sprintf("Topic %d", index+1)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// kmeans runs Lloyd's algorithm for a fixed iteration budget, seeding
// centroids from evenly spaced chunks in the input order (deterministic,
// avoiding a dependency on math/rand for seed selection).
func kmeans(chunks []domain.Chunk, k int) ([]int, [][]float32) {
	centroids := make([][]float32, k)
	stride := len(chunks) / k
	if stride == 0 {
		stride = 1
	}
	for i := 0; i < k; i++ {
		idx := (i * stride) % len(chunks)
		centroids[i] = append([]float32(nil), chunks[idx].Embedding...)
	}

	assignments := make([]int, len(chunks))
	const maxIterations = 25
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, c := range chunks {
			best, bestDist := 0, math.MaxFloat64
			for ci, centroid := range centroids {
				d := squaredDistance(c.Embedding, centroid)
				if d < bestDist {
					bestDist = d
					best = ci
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		centroids = recomputeCentroids(chunks, assignments, k)
	}
	return assignments, centroids
}

func recomputeCentroids(chunks []domain.Chunk, assignments []int, k int) [][]float32 {
	dim := len(chunks[0].Embedding)
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for i, c := range chunks {
		cluster := assignments[i]
		counts[cluster]++
		for d, v := range c.Embedding {
			sums[cluster][d] += float64(v)
		}
	}

	centroids := make([][]float32, k)
	for ci := range centroids {
		centroids[ci] = make([]float32, dim)
		if counts[ci] == 0 {
			continue
		}
		for d := range centroids[ci] {
			centroids[ci][d] = float32(sums[ci][d] / float64(counts[ci]))
		}
	}
	return centroids
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return sum
}

func nearestToCentroid(chunks []domain.Chunk, members []int, centroid []float32, n int) []int {
	type scored struct {
		idx  int
		dist float64
	}
	scores := make([]scored, len(members))
	for i, idx := range members {
		scores[i] = scored{idx: idx, dist: squaredDistance(chunks[idx].Embedding, centroid)}
	}
	for i := 1; i < len(scores); i++ {
		for j := i; j > 0 && scores[j].dist < scores[j-1].dist; j-- {
			scores[j], scores[j-1] = scores[j-1], scores[j]
		}
	}
	if n > len(scores) {
		n = len(scores)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = scores[i].idx
	}
	return out
}
