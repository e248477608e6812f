/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package matrix implements the fixed-dimension 2-vector and 2x2 matrix
// arithmetic the Kalman peer filter and combiner are built on. Everything
// here is a closed form - there is no general NxN solver, because the
// filter's state (offset, frequency) never grows past two dimensions.
package matrix

import "math"

// Vector is a 2-component real vector: (offset, frequency).
type Vector struct {
	X0, X1 float64
}

// NewVector builds a Vector from its two components.
func NewVector(x0, x1 float64) Vector {
	return Vector{X0: x0, X1: x1}
}

// Entry returns component i (0 or 1).
func (v Vector) Entry(i int) float64 {
	if i == 0 {
		return v.X0
	}
	return v.X1
}

// Add returns v + other.
func (v Vector) Add(other Vector) Vector {
	return Vector{v.X0 + other.X0, v.X1 + other.X1}
}

// Sub returns v - other.
func (v Vector) Sub(other Vector) Vector {
	return Vector{v.X0 - other.X0, v.X1 - other.X1}
}

// Scale returns v multiplied by a scalar.
func (v Vector) Scale(s float64) Vector {
	return Vector{v.X0 * s, v.X1 * s}
}

// Matrix is a 2x2 real matrix, row-major:
//
//	| A00 A01 |
//	| A10 A11 |
//
// When used as a covariance it is symmetric (A01 == A10).
type Matrix struct {
	A00, A01, A10, A11 float64
}

// New builds a Matrix from its four entries, row-major.
func New(a00, a01, a10, a11 float64) Matrix {
	return Matrix{A00: a00, A01: a01, A10: a10, A11: a11}
}

// Diag builds a diagonal matrix with the given entries on the main diagonal.
func Diag(d0, d1 float64) Matrix {
	return Matrix{A00: d0, A11: d1}
}

// Identity returns the 2x2 identity matrix.
func Identity() Matrix {
	return Matrix{A00: 1, A11: 1}
}

// Entry returns entry (i, j), each 0 or 1.
func (m Matrix) Entry(i, j int) float64 {
	switch {
	case i == 0 && j == 0:
		return m.A00
	case i == 0 && j == 1:
		return m.A01
	case i == 1 && j == 0:
		return m.A10
	default:
		return m.A11
	}
}

// Add returns m + other.
func (m Matrix) Add(other Matrix) Matrix {
	return Matrix{
		A00: m.A00 + other.A00,
		A01: m.A01 + other.A01,
		A10: m.A10 + other.A10,
		A11: m.A11 + other.A11,
	}
}

// Sub returns m - other.
func (m Matrix) Sub(other Matrix) Matrix {
	return Matrix{
		A00: m.A00 - other.A00,
		A01: m.A01 - other.A01,
		A10: m.A10 - other.A10,
		A11: m.A11 - other.A11,
	}
}

// Scale returns m multiplied by a scalar.
func (m Matrix) Scale(s float64) Matrix {
	return Matrix{m.A00 * s, m.A01 * s, m.A10 * s, m.A11 * s}
}

// Mul returns the matrix product m * other.
func (m Matrix) Mul(other Matrix) Matrix {
	return Matrix{
		A00: m.A00*other.A00 + m.A01*other.A10,
		A01: m.A00*other.A01 + m.A01*other.A11,
		A10: m.A10*other.A00 + m.A11*other.A10,
		A11: m.A10*other.A01 + m.A11*other.A11,
	}
}

// MulVector returns the matrix-vector product m * v.
func (m Matrix) MulVector(v Vector) Vector {
	return Vector{
		X0: m.A00*v.X0 + m.A01*v.X1,
		X1: m.A10*v.X0 + m.A11*v.X1,
	}
}

// Transpose returns the transpose of m.
func (m Matrix) Transpose() Matrix {
	return Matrix{A00: m.A00, A01: m.A10, A10: m.A01, A11: m.A11}
}

// Determinant returns det(m).
func (m Matrix) Determinant() float64 {
	return m.A00*m.A11 - m.A01*m.A10
}

// Inverse returns the closed-form inverse of m, (1/det(m)) * adj(m).
//
// Callers must guarantee m is non-singular (positive-definite, by
// construction, in every caller in this codebase); Inverse does not guard
// against det(m) == 0.
func (m Matrix) Inverse() Matrix {
	d := 1.0 / m.Determinant()
	return Matrix{
		A00: m.A11 * d,
		A01: -m.A01 * d,
		A10: -m.A10 * d,
		A11: m.A00 * d,
	}
}

// Symmetrize returns (m + mT) / 2, restoring exact symmetry after a
// covariance update that has accumulated floating-point drift.
func (m Matrix) Symmetrize() Matrix {
	return m.Add(m.Transpose()).Scale(0.5)
}

// IsPositiveSemidefinite reports whether m is a valid covariance: symmetric
// (within tolerance) with non-negative diagonal and determinant.
func (m Matrix) IsPositiveSemidefinite() bool {
	const tol = 1e-9
	if math.Abs(m.A01-m.A10) > tol {
		return false
	}
	return m.A00 >= -tol && m.A11 >= -tol && m.Determinant() >= -tol
}
