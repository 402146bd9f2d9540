package core

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

// MatFromRows builds a matrix whose rows are the given vectors. A rotation
// from the Earth-fixed frame into a local frame with axes a, b, c is
// MatFromRows(a, b, c).
func MatFromRows(a, b, c Vec3) Mat3 {
	return Mat3{
		{a.X, a.Y, a.Z},
		{b.X, b.Y, b.Z},
		{c.X, c.Y, c.Z},
	}
}

// MulVec returns m * v.
func (m Mat3) MulVec(v Vec3) Vec3 {
	return Vec3{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Transpose returns the transpose of m. For a rotation this is its inverse.
func (m Mat3) Transpose() Mat3 {
	var t Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t[i][j] = m[j][i]
		}
	}
	return t
}
