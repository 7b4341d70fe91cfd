package formula

import (
	"cmp"
	"math"
)

// applyBinary evaluates an operator on two scalar values. an error on the
// left wins over one on the right.
func applyBinary(op BinaryOp, left, right CellValue) CellValue {
	switch op {
	case BinOpConcat:
		l, code := toText(left)
		if code != 0 {
			return ErrorValue(code)
		}
		r, code := toText(right)
		if code != 0 {
			return ErrorValue(code)
		}
		return TextValue(l + r)
	case BinOpEqual, BinOpNotEqual, BinOpLess, BinOpLessEqual, BinOpGreater, BinOpGreaterEqual:
		return compareOp(op, left, right)
	}

	l, code := toNumber(left)
	if code != 0 {
		return ErrorValue(code)
	}
	r, code := toNumber(right)
	if code != 0 {
		return ErrorValue(code)
	}
	var result float64
	switch op {
	case BinOpAdd:
		result = l + r
	case BinOpSubtract:
		result = l - r
	case BinOpMultiply:
		result = l * r
	case BinOpDivide:
		if r == 0 {
			return ErrorValue(ErrorCodeDiv0)
		}
		result = l / r
	case BinOpPower:
		if l == 0 && r == 0 {
			return ErrorValue(ErrorCodeNum)
		}
		if l == 0 && r < 0 {
			return ErrorValue(ErrorCodeDiv0)
		}
		result = math.Pow(l, r)
	default:
		return ErrorValue(ErrorCodeValue)
	}
	return finite(result)
}

func applyUnary(op UnaryOp, operand CellValue) CellValue {
	n, code := toNumber(operand)
	if code != 0 {
		return ErrorValue(code)
	}
	switch op {
	case UnaryOpMinus:
		return NumberValue(-n)
	case UnaryOpPercent:
		return NumberValue(n / 100)
	}
	return NumberValue(n)
}

// finite turns overflow and undefined results into #NUM!.
func finite(n float64) CellValue {
	if math.IsInf(n, 0) || math.IsNaN(n) {
		return ErrorValue(ErrorCodeNum)
	}
	return NumberValue(n)
}

func compareOp(op BinaryOp, left, right CellValue) CellValue {
	if left.IsError() {
		return left
	}
	if right.IsError() {
		return right
	}
	left, right = blankAs(left, right), blankAs(right, left)
	c := compareValues(left, right)
	switch op {
	case BinOpEqual:
		return BoolValue(c == 0)
	case BinOpNotEqual:
		return BoolValue(c != 0)
	case BinOpLess:
		return BoolValue(c < 0)
	case BinOpLessEqual:
		return BoolValue(c <= 0)
	case BinOpGreater:
		return BoolValue(c > 0)
	}
	return BoolValue(c >= 0)
}

// blankAs gives a blank operand the empty value of the other operand's
// kind: 0, "" or FALSE.
func blankAs(v, other CellValue) CellValue {
	if !v.IsBlank() {
		return v
	}
	switch other.Kind {
	case KindText:
		return TextValue("")
	case KindBoolean:
		return BoolValue(false)
	}
	return NumberValue(0)
}

// kindRank orders values of different kinds: numbers sort before text,
// text before booleans.
func kindRank(k ValueKind) int {
	switch k {
	case KindNumber, KindBlank:
		return 0
	case KindText:
		return 1
	case KindBoolean:
		return 2
	}
	return 3
}

// compareValues orders two non-error values. text compares without regard
// to case.
func compareValues(a, b CellValue) int {
	if ra, rb := kindRank(a.Kind), kindRank(b.Kind); ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch a.Kind {
	case KindText:
		return cmp.Compare(foldName(a.Text), foldName(b.Text))
	case KindBoolean:
		return cmp.Compare(boolRank(a.Bool), boolRank(b.Bool))
	}
	return cmp.Compare(a.Number, b.Number)
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
