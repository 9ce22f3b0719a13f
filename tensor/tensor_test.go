package tensor

import (
	"math"
	"testing"
)

func TestNewShape(t *testing.T) {
	t1 := New(2, 3)
	if len(t1.Data) != 6 {
		t.Fatalf("expected 6 elements, got %d", len(t1.Data))
	}
	if len(t1.Shape) != 2 || t1.Shape[0] != 2 || t1.Shape[1] != 3 {
		t.Fatalf("unexpected shape: %v", t1.Shape)
	}
}

func TestAdd(t *testing.T) {
	a := &Tensor{Data: []float64{1, 2, 3}, Shape: []int{3}}
	b := &Tensor{Data: []float64{4, 5, 6}, Shape: []int{3}}
	c, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{5, 7, 9}
	for i := range want {
		if c.Data[i] != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.Data[i], want[i])
		}
	}
	if a.Data[0] != 1 {
		t.Errorf("Add mutated its input")
	}
}

func TestAddShapeMismatch(t *testing.T) {
	a := New(1, 4, 2, 2)
	b := New(1, 4, 1, 1)
	if _, err := Add(a, b); err == nil {
		t.Fatal("expected shape mismatch error")
	}
	if _, err := Add(New(4), New(2, 2)); err == nil {
		t.Fatal("expected rank mismatch error")
	}
}

func TestReluPlain(t *testing.T) {
	a := &Tensor{Data: []float64{-1, 0, 3}, Shape: []int{3}}
	c := ReluPlain(a)
	want := []float64{0, 0, 3}
	for i := range want {
		if c.Data[i] != want[i] {
			t.Errorf("at %d, got %f, want %f", i, c.Data[i], want[i])
		}
	}
	ReluInPlace(a)
	if !Equal(a, c) {
		t.Errorf("ReluInPlace = %v, want %v", a.Data, c.Data)
	}
}

func TestAtSet(t *testing.T) {
	x := New(2, 3, 4, 5)
	x.Set(7, 1, 2, 3, 4)
	if got := x.At(1, 2, 3, 4); got != 7 {
		t.Fatalf("At = %f, want 7", got)
	}
	if x.Data[len(x.Data)-1] != 7 {
		t.Fatalf("last element not set, row-major layout broken")
	}
}

func TestFromSliceAndClone(t *testing.T) {
	if _, err := FromSlice([]float64{1, 2, 3}, 2, 2); err == nil {
		t.Fatal("expected length mismatch error")
	}
	x, err := FromSlice([]float64{1, 2, 3, 4}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	y := x.Clone()
	y.Data[0] = 100
	if x.Data[0] != 1 {
		t.Fatal("Clone shares data")
	}
	if Equal(x, y) {
		t.Fatal("Equal should report differing data")
	}
}

func TestAllFinite(t *testing.T) {
	x := NewWithData([]float64{0, 1, -2})
	if !x.AllFinite() {
		t.Fatal("expected finite")
	}
	x.Data[1] = math.NaN()
	if x.AllFinite() {
		t.Fatal("NaN not detected")
	}
	x.Data[1] = math.Inf(-1)
	if x.AllFinite() {
		t.Fatal("Inf not detected")
	}
}
