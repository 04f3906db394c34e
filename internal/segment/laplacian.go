package segment

import (
	"math"

	"audio-structure-analyzer/internal/config"

	"gonum.org/v1/gonum/mat"
)

// 循环结构图与顺序图的混合权重
const recurrenceWeight = 0.5

// 帧抽取后的聚类单元数上限（无节拍网格时）
const maxClusterUnits = 256

// LaplacianStrategy 谱聚类策略：循环 + 顺序亲和图的归一化拉普拉斯，
// 前几个特征向量上做 k-means，簇标签变化点即边界。
type LaplacianStrategy struct {
	maxClusters int
}

func (s *LaplacianStrategy) Name() string { return config.StrategyLaplacian }

// Scored 谱聚类不产生边界得分，跳过百分位阈值和率匹配
func (s *LaplacianStrategy) Scored() bool { return false }

func (s *LaplacianStrategy) InitialPercentile(params *config.BoundaryParams) float64 {
	return params.Percentile
}

func (s *LaplacianStrategy) MinSpacing(ctx *Context, params *config.BoundaryParams) float64 {
	return params.MinSpacingSeconds
}

func (s *LaplacianStrategy) Candidates(ctx *Context, params *config.BoundaryParams) ([]Candidate, error) {
	units, unitTimes := clusterUnits(ctx)
	n := len(units)
	if n < 4 {
		return nil, nil
	}

	affinity := buildAffinity(units)
	embedding := laplacianEmbedding(affinity, s.clusterCount(n))
	if embedding == nil {
		return nil, nil
	}

	labels := kmeans(embedding, len(embedding[0]))

	var cands []Candidate
	for i := 1; i < n; i++ {
		if labels[i] != labels[i-1] {
			cands = append(cands, Candidate{Time: unitTimes[i], Score: 1})
		}
	}
	return cands, nil
}

// clusterCount 簇数以配置为上限，随单元数缩放
func (s *LaplacianStrategy) clusterCount(n int) int {
	k := n / 10
	if k < 2 {
		k = 2
	}
	if k > s.maxClusters {
		k = s.maxClusters
	}
	if k > n {
		k = n
	}
	return k
}

// clusterUnits 聚类单元：有节拍网格时按节拍聚合，否则均匀抽取帧
func clusterUnits(ctx *Context) ([][]float64, []float64) {
	if len(ctx.BeatTimes) >= 8 {
		return beatSyncFeatures(ctx), ctx.BeatTimes
	}

	m := ctx.Features
	n := m.FrameCount()
	step := 1
	if n > maxClusterUnits {
		step = n / maxClusterUnits
	}
	var units [][]float64
	var times []float64
	for i := 0; i < n; i += step {
		vec := make([]float64, 0, len(m.Timbre[i])+len(m.Chroma[i]))
		vec = append(vec, m.Timbre[i]...)
		vec = append(vec, m.Chroma[i]...)
		units = append(units, vec)
		times = append(times, m.FrameTimes[i])
	}
	return units, times
}

// buildAffinity 组合 k 近邻循环图和相邻顺序图
func buildAffinity(units [][]float64) [][]float64 {
	n := len(units)
	k := int(1 + math.Sqrt(float64(n)))
	if k >= n {
		k = n - 1
	}

	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
		for j := range sim[i] {
			if i != j {
				s := cosineSim(units[i], units[j])
				if s > 0 {
					sim[i][j] = s
				}
			}
		}
	}

	// 每行只保留 k 个最强连接，再对称化（取并）
	recurrence := make([][]float64, n)
	for i := range recurrence {
		recurrence[i] = make([]float64, n)
		threshold := kthLargest(sim[i], k)
		for j, s := range sim[i] {
			if s >= threshold && s > 0 {
				recurrence[i][j] = s
			}
		}
	}

	affinity := make([][]float64, n)
	for i := range affinity {
		affinity[i] = make([]float64, n)
		for j := range affinity[i] {
			r := math.Max(recurrence[i][j], recurrence[j][i])
			seq := 0.0
			if j == i+1 || j == i-1 {
				seq = 1.0
			}
			affinity[i][j] = recurrenceWeight*r + (1-recurrenceWeight)*seq
		}
	}
	return affinity
}

// laplacianEmbedding 归一化图拉普拉斯 L = I - D^{-1/2} A D^{-1/2}
// 的前 numVectors 个特征向量（特征值升序）按行组成嵌入
func laplacianEmbedding(affinity [][]float64, numVectors int) [][]float64 {
	n := len(affinity)
	if numVectors > n {
		numVectors = n
	}

	degree := make([]float64, n)
	for i := range affinity {
		for _, v := range affinity[i] {
			degree[i] += v
		}
	}

	lap := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var v float64
			if i == j {
				v = 1
			}
			if degree[i] > 0 && degree[j] > 0 {
				v -= affinity[i][j] / math.Sqrt(degree[i]*degree[j])
			}
			lap.SetSym(i, j, v)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(lap, true) {
		return nil
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// gonum 的对称特征值按升序排列，前几列即最平滑的结构方向
	embedding := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, numVectors)
		for j := 0; j < numVectors; j++ {
			row[j] = vectors.At(i, j)
		}
		embedding[i] = row
	}
	return embedding
}

// kmeans 确定性 k-means：最远点初始化，固定迭代轮数
func kmeans(points [][]float64, k int) []int {
	n := len(points)
	if k > n {
		k = n
	}

	// 最远点播种，起点固定为第 0 个，保证可重复
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), points[0]...))
	for len(centers) < k {
		bestIdx, bestDist := 0, -1.0
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centers {
				if dd := sqDist(p, c); dd < d {
					d = dd
				}
			}
			if d > bestDist {
				bestDist = d
				bestIdx = i
			}
		}
		centers = append(centers, append([]float64(nil), points[bestIdx]...))
	}

	labels := make([]int, n)
	for iter := 0; iter < 50; iter++ {
		changed := false
		for i, p := range points {
			best, bestD := 0, math.Inf(1)
			for c := range centers {
				if d := sqDist(p, centers[c]); d < bestD {
					bestD = d
					best = c
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, len(points[0]))
		}
		for i, p := range points {
			counts[labels[i]]++
			for d, v := range p {
				sums[labels[i]][d] += v
			}
		}
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			for d := range centers[c] {
				centers[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}
	return labels
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// kthLargest 行内第 k 大的值（k>=1）；元素不足时取最小值
func kthLargest(row []float64, k int) float64 {
	if k < 1 {
		k = 1
	}
	vals := append([]float64(nil), row...)
	// 简单选择：k 远小于 n，部分选择即可
	for i := 0; i < k && i < len(vals); i++ {
		maxIdx := i
		for j := i + 1; j < len(vals); j++ {
			if vals[j] > vals[maxIdx] {
				maxIdx = j
			}
		}
		vals[i], vals[maxIdx] = vals[maxIdx], vals[i]
	}
	if k-1 < len(vals) {
		return vals[k-1]
	}
	return vals[len(vals)-1]
}
