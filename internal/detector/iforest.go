package detector

import (
	"context"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	"github.com/sourcegraph/conc/pool"
)

const eulerGamma = 0.5772156649015329

// node 扁平存储的树节点，Left < 0 表示叶子
type node struct {
	Feature int     `json:"f"`
	Split   float64 `json:"s"`
	Left    int32   `json:"l"`
	Right   int32   `json:"r"`
	Size    int     `json:"n"` // 叶子上的样本数
}

// iTree 一棵隔离树；Min/Max 为建树子样本在各维度上的范围
type iTree struct {
	Nodes []node    `json:"nodes"`
	Min   []float64 `json:"min"`
	Max   []float64 `json:"max"`
}

// Forest 隔离森林
type Forest struct {
	Trees      []iTree `json:"trees"`
	SampleSize int     `json:"sampleSize"`
	Features   int     `json:"features"`
}

// fitForest 并行构建 estimators 棵树，每棵树的随机源由 seed 和树序号派生，结果可复现
func fitForest(ctx context.Context, data [][]float64, estimators, sampleSize int, seed int64) (*Forest, error) {
	n := len(data)
	if sampleSize <= 0 || sampleSize > n {
		sampleSize = n
	}
	features := len(data[0])
	maxDepth := int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))

	trees := make([]iTree, estimators)
	p := pool.New().WithContext(ctx).WithMaxGoroutines(runtime.GOMAXPROCS(0))
	for i := 0; i < estimators; i++ {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(uint64(seed), uint64(i)))
			subset := subsample(rng, n, sampleSize)
			trees[i] = growTree(rng, data, subset, features, maxDepth)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	return &Forest{Trees: trees, SampleSize: sampleSize, Features: features}, nil
}

// subsample 不放回抽取 k 个下标
func subsample(rng *rand.Rand, n, k int) []int {
	idx := rng.Perm(n)
	return idx[:k]
}

func growTree(rng *rand.Rand, data [][]float64, subset []int, features, maxDepth int) iTree {
	t := iTree{
		Min: make([]float64, features),
		Max: make([]float64, features),
	}
	for f := 0; f < features; f++ {
		t.Min[f], t.Max[f] = bounds(data, subset, f)
	}

	type frame struct {
		at    int32
		rows  []int
		depth int
	}

	t.Nodes = append(t.Nodes, node{})
	stack := []frame{{at: 0, rows: subset, depth: 0}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if fr.depth >= maxDepth || len(fr.rows) <= 1 {
			t.Nodes[fr.at] = node{Left: -1, Right: -1, Size: len(fr.rows)}
			continue
		}

		// 只在取值不全相同的维度上切分
		var candidates []int
		for f := 0; f < features; f++ {
			lo, hi := bounds(data, fr.rows, f)
			if hi > lo {
				candidates = append(candidates, f)
			}
		}
		if len(candidates) == 0 {
			t.Nodes[fr.at] = node{Left: -1, Right: -1, Size: len(fr.rows)}
			continue
		}

		feature := candidates[rng.IntN(len(candidates))]
		lo, hi := bounds(data, fr.rows, feature)
		split := lo + rng.Float64()*(hi-lo)

		var left, right []int
		for _, r := range fr.rows {
			if data[r][feature] < split {
				left = append(left, r)
			} else {
				right = append(right, r)
			}
		}

		l := int32(len(t.Nodes))
		t.Nodes = append(t.Nodes, node{}, node{})
		t.Nodes[fr.at] = node{Feature: feature, Split: split, Left: l, Right: l + 1}
		stack = append(stack,
			frame{at: l, rows: left, depth: fr.depth + 1},
			frame{at: l + 1, rows: right, depth: fr.depth + 1},
		)
	}
	return t
}

func bounds(data [][]float64, rows []int, f int) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		v := data[r][f]
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

// pathLength 样本在树中的路径长度，叶子处用 c(size) 补偿未展开的子树
// 超出建树子样本取值范围的点视为在根节点处就被隔离
func (t *iTree) pathLength(x []float64) float64 {
	for f, v := range x {
		if v < t.Min[f] || v > t.Max[f] {
			return 1
		}
	}

	at, depth := int32(0), 0
	for {
		nd := t.Nodes[at]
		if nd.Left < 0 {
			return float64(depth) + averagePathLength(nd.Size)
		}
		if x[nd.Feature] < nd.Split {
			at = nd.Left
		} else {
			at = nd.Right
		}
		depth++
	}
}

// Score 异常分数 2^(-E[h(x)]/c(ψ))，越接近 1 越异常
func (f *Forest) Score(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].pathLength(x)
	}
	mean := sum / float64(len(f.Trees))

	c := averagePathLength(f.SampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/c)
}

// averagePathLength 二叉搜索树中失败查找的平均路径长度 c(n)
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

// quantile 线性插值分位数，q ∈ [0,1]
func quantile(values []float64, q float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
