package allocator

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/kushal-sa/HRP/internal/covariance"
)

// HRP is hierarchical risk parity: tree clustering, quasi-diagonalization
// and recursive bisection.
type HRP struct {
	linkage Linkage
}

// NewHRP creates an HRP allocator with the given linkage criterion
func NewHRP(linkage Linkage) (*HRP, error) {
	l, err := ParseLinkage(string(linkage))
	if err != nil {
		return nil, err
	}
	return &HRP{linkage: l}, nil
}

func (h *HRP) Name() string { return "HRP" }

// Linkage returns the clustering criterion
func (h *HRP) Linkage() Linkage { return h.linkage }

// Tree clusters the assets of cov by correlation distance
func (h *HRP) Tree(cov mat.Symmetric) (*Dendrogram, error) {
	corr, err := covariance.Correlation(cov)
	if err != nil {
		return nil, err
	}
	return Cluster(covariance.Distance(corr), h.linkage)
}

// Allocate returns HRP weights in the original asset order
func (h *HRP) Allocate(est *covariance.Estimate) ([]float64, error) {
	tree, err := h.Tree(est.Cov)
	if err != nil {
		return nil, fmt.Errorf("hrp clustering: %w", err)
	}

	order := tree.Order()
	quasi := QuasiDiagonal(est.Cov, order)

	return bisect(tree, order, quasi)
}

// QuasiDiagonal permutes rows and columns of cov into order
func QuasiDiagonal(cov mat.Symmetric, order []int) *mat.SymDense {
	n := len(order)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, cov.At(order[i], order[j]))
		}
	}
	return out
}

type span struct{ lo, hi int }

type pending struct {
	id     int
	weight float64
}

// bisect splits each cluster into its two dendrogram branches, giving each
// branch a share of the parent weight proportional to its inverse cluster
// variance. Every cluster is a contiguous block of the quasi-diagonal matrix.
func bisect(tree *Dendrogram, order []int, quasi *mat.SymDense) ([]float64, error) {
	n := tree.Leaves
	spans := make([]span, 2*n-1)
	for pos, leaf := range order {
		spans[leaf] = span{pos, pos + 1}
	}
	for k, m := range tree.Merges {
		l, r := spans[m.Left], spans[m.Right]
		spans[n+k] = span{min(l.lo, r.lo), max(l.hi, r.hi)}
	}

	weights := make([]float64, n)
	queue := []pending{{id: tree.Root(), weight: 1}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.id < n {
			weights[cur.id] = cur.weight
			continue
		}

		left, right := tree.children(cur.id)
		varL, err := clusterVariance(quasi, spans[left])
		if err != nil {
			return nil, err
		}
		varR, err := clusterVariance(quasi, spans[right])
		if err != nil {
			return nil, err
		}

		alpha := varR / (varL + varR)
		queue = append(queue,
			pending{id: left, weight: cur.weight * alpha},
			pending{id: right, weight: cur.weight * (1 - alpha)},
		)
	}
	return weights, nil
}

// clusterVariance is the variance of the inverse-variance portfolio over one block
func clusterVariance(quasi *mat.SymDense, s span) (float64, error) {
	block := quasi.SliceSym(s.lo, s.hi)
	w, err := InverseVariance(block)
	if err != nil {
		return 0, err
	}
	return portfolioVariance(block, w), nil
}
