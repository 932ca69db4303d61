package vectorstore

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// projection maps vectors onto the first two principal components of the
// data it was fitted on.
type projection struct {
	mean []float64
	// vectors holds one component per column, at most two.
	vectors *mat.Dense
}

// fitPCA fits the top two principal components of data. Rows shorter than
// the first row are zero padded.
func fitPCA(data [][]float32) *projection {
	rows, dim := len(data), len(data[0])
	a := mat.NewDense(rows, dim, nil)
	for i, row := range data {
		for j := 0; j < dim && j < len(row); j++ {
			a.Set(i, j, float64(row[j]))
		}
	}

	p := &projection{mean: make([]float64, dim)}
	col := make([]float64, rows)
	for j := range p.mean {
		p.mean[j] = stat.Mean(mat.Col(col, j, a), nil)
	}

	var pc stat.PC
	if !pc.PrincipalComponents(a, nil) {
		return p
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	_, k := vecs.Dims()
	if k > 2 {
		k = 2
	}
	p.vectors = mat.DenseCopyOf(vecs.Slice(0, dim, 0, k))
	return p
}

func (p *projection) project(vec []float32) (float64, float64) {
	if p.vectors == nil {
		return 0, 0
	}
	centred := mat.NewVecDense(len(p.mean), nil)
	for j := range p.mean {
		if j < len(vec) {
			centred.SetVec(j, float64(vec[j])-p.mean[j])
		}
	}

	var out mat.VecDense
	out.MulVec(p.vectors.T(), centred)
	x := out.AtVec(0)
	var y float64
	if out.Len() > 1 {
		y = out.AtVec(1)
	}
	return x, y
}
