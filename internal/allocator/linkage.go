package allocator

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Linkage selects how distances between merged clusters are updated
type Linkage string

const (
	LinkageSingle   Linkage = "single"
	LinkageComplete Linkage = "complete"
	LinkageAverage  Linkage = "average"
	LinkageWard     Linkage = "ward"
)

// ParseLinkage accepts a case-insensitive linkage name
func ParseLinkage(s string) (Linkage, error) {
	switch l := Linkage(strings.ToLower(strings.TrimSpace(s))); l {
	case LinkageSingle, LinkageComplete, LinkageAverage, LinkageWard:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLinkage, s)
	}
}

// Merge is one agglomeration step. Ids below the leaf count are assets;
// merge k creates cluster id leaves+k.
type Merge struct {
	Left     int     `json:"left"`
	Right    int     `json:"right"`
	Distance float64 `json:"distance"`
	Size     int     `json:"size"`
}

// Dendrogram is the binary merge tree over the assets
type Dendrogram struct {
	Leaves int     `json:"leaves"`
	Merges []Merge `json:"merges"`
}

// Cluster runs agglomerative clustering on a distance matrix. At every step
// the closest pair of active clusters is merged; ties go to the pair with the
// lowest ids.
func Cluster(dist mat.Symmetric, linkage Linkage) (*Dendrogram, error) {
	n := dist.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("empty distance matrix")
	}
	if _, err := ParseLinkage(string(linkage)); err != nil {
		return nil, err
	}

	total := 2*n - 1
	d := make([][]float64, total)
	for i := range d {
		d[i] = make([]float64, total)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d[i][j] = dist.At(i, j)
		}
	}

	size := make([]int, total)
	active := make([]int, n)
	for i := 0; i < n; i++ {
		size[i] = 1
		active[i] = i
	}

	tree := &Dendrogram{Leaves: n, Merges: make([]Merge, 0, n-1)}
	for k := 0; k < n-1; k++ {
		bi, bj := -1, -1
		best := math.Inf(1)
		for x := 0; x < len(active); x++ {
			for y := x + 1; y < len(active); y++ {
				a, b := active[x], active[y]
				if d[a][b] < best {
					best, bi, bj = d[a][b], x, y
				}
			}
		}
		if bi < 0 {
			return nil, fmt.Errorf("no mergeable pair at step %d (non-finite distances)", k)
		}

		a, b := active[bi], active[bj]
		id := n + k
		size[id] = size[a] + size[b]
		tree.Merges = append(tree.Merges, Merge{Left: a, Right: b, Distance: best, Size: size[id]})

		// bj > bi, so remove bj first to keep bi valid
		active = append(active[:bj], active[bj+1:]...)
		active = append(active[:bi], active[bi+1:]...)

		for _, c := range active {
			v := lanceWilliams(linkage, d[a][c], d[b][c], d[a][b], size[a], size[b], size[c])
			d[id][c] = v
			d[c][id] = v
		}
		active = append(active, id)
	}

	return tree, nil
}

func lanceWilliams(linkage Linkage, dac, dbc, dab float64, na, nb, nc int) float64 {
	switch linkage {
	case LinkageSingle:
		return math.Min(dac, dbc)
	case LinkageComplete:
		return math.Max(dac, dbc)
	case LinkageAverage:
		return (float64(na)*dac + float64(nb)*dbc) / float64(na+nb)
	default:
		fa, fb, fc := float64(na), float64(nb), float64(nc)
		v := ((fa+fc)*dac*dac + (fb+fc)*dbc*dbc - fc*dab*dab) / (fa + fb + fc)
		return math.Sqrt(math.Max(v, 0))
	}
}

// Root returns the id of the top cluster
func (t *Dendrogram) Root() int {
	return 2*t.Leaves - 2
}

// children returns the two subclusters of a merged id
func (t *Dendrogram) children(id int) (int, int) {
	m := t.Merges[id-t.Leaves]
	return m.Left, m.Right
}

// Members returns the leaves under id, left subtree first
func (t *Dendrogram) Members(id int) []int {
	out := make([]int, 0, t.Leaves)
	stack := []int{id}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top < t.Leaves {
			out = append(out, top)
			continue
		}
		l, r := t.children(top)
		stack = append(stack, r, l)
	}
	return out
}

// Order returns the leaf order of the whole tree
func (t *Dendrogram) Order() []int {
	return t.Members(t.Root())
}
