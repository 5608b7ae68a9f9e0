package rtkcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestEKFUpdaterZeroInnovationLeavesStateUnchanged(t *testing.T) {
	fs := NewFilterState(3)
	fs.Activate(0, 100, 1.0)
	fs.Activate(1, 200, 1.0)
	fs.Activate(2, 300, 1.0)

	H := mat.NewDense(1, 3, []float64{1, 0, 0})
	v := mat.NewVecDense(1, []float64{0})
	R := mat.NewDense(1, 1, []float64{1.0})

	upd := NewEKFUpdater(1)
	_, err := upd.Update(fs, H, v, R)
	assert.NoError(t, err)
	assert.InDelta(t, 100.0, fs.X.AtVec(0), 1e-9)
}

func TestEKFUpdaterReducesVariance(t *testing.T) {
	fs := NewFilterState(1)
	fs.Activate(0, 0, 4.0)

	H := mat.NewDense(1, 1, []float64{1})
	v := mat.NewVecDense(1, []float64{1})
	R := mat.NewDense(1, 1, []float64{1.0})

	upd := NewEKFUpdater(1)
	_, err := upd.Update(fs, H, v, R)
	assert.NoError(t, err)
	assert.Less(t, fs.P.At(0, 0), 4.0)
}

func TestFilterStateResetClearsRowAndColumn(t *testing.T) {
	fs := NewFilterState(2)
	fs.Activate(0, 1, 2)
	fs.Activate(1, 3, 4)
	fs.Reset(0)
	assert.False(t, fs.Active[0])
	assert.Equal(t, 0.0, fs.X.AtVec(0))
	assert.Equal(t, 0.0, fs.P.At(0, 0))
	assert.Equal(t, 0.0, fs.P.At(0, 1))
}

func TestActiveIndicesSkipsInactive(t *testing.T) {
	fs := NewFilterState(3)
	fs.Activate(0, 1, 1)
	fs.Activate(2, 1, 1)
	assert.Equal(t, []int{0, 2}, fs.ActiveIndices())
}
