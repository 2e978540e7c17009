package transport

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ReduceOp selects the operator combining per-rank values in Reduce.
type ReduceOp uint8

const (
	OpSum ReduceOp = iota
	OpMin
	OpMax
	OpProd
	OpLogicalAnd
	OpLogicalOr
	OpLogicalXor
	OpBitwiseAnd
	OpBitwiseOr
	OpBitwiseXor
	// OpReplace keeps the last contributed value.
	OpReplace
	// OpNoOp keeps the first contributed value.
	OpNoOp
)

func (op ReduceOp) String() string {
	switch op {
	case OpSum:
		return "sum"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpProd:
		return "prod"
	case OpLogicalAnd:
		return "land"
	case OpLogicalOr:
		return "lor"
	case OpLogicalXor:
		return "lxor"
	case OpBitwiseAnd:
		return "band"
	case OpBitwiseOr:
		return "bor"
	case OpBitwiseXor:
		return "bxor"
	case OpReplace:
		return "replace"
	case OpNoOp:
		return "noop"
	}
	return fmt.Sprintf("ReduceOp(%d)", uint8(op))
}

// Combine applies the operator to an accumulated value a and a newly
// contributed value b. Logical operators treat non-zero as true; bitwise
// operators act on the IEEE-754 bit patterns.
func (op ReduceOp) Combine(a, b float64) float64 {
	switch op {
	case OpSum:
		return a + b
	case OpMin:
		return math.Min(a, b)
	case OpMax:
		return math.Max(a, b)
	case OpProd:
		return a * b
	case OpLogicalAnd:
		return boolValue(a != 0 && b != 0)
	case OpLogicalOr:
		return boolValue(a != 0 || b != 0)
	case OpLogicalXor:
		return boolValue((a != 0) != (b != 0))
	case OpBitwiseAnd:
		return math.Float64frombits(math.Float64bits(a) & math.Float64bits(b))
	case OpBitwiseOr:
		return math.Float64frombits(math.Float64bits(a) | math.Float64bits(b))
	case OpBitwiseXor:
		return math.Float64frombits(math.Float64bits(a) ^ math.Float64bits(b))
	case OpReplace:
		return b
	case OpNoOp:
		return a
	}
	return a
}

// Reduce combines a non-empty slice of per-rank values.
func (op ReduceOp) Reduce(values []float64) float64 {
	switch op {
	case OpSum:
		return floats.Sum(values)
	case OpMin:
		return floats.Min(values)
	case OpMax:
		return floats.Max(values)
	case OpProd:
		return floats.Prod(values)
	}
	acc := values[0]
	for _, v := range values[1:] {
		acc = op.Combine(acc, v)
	}
	return acc
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
