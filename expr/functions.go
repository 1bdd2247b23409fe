package expr

// Host-side function names understood by the translator.
const (
	FuncTrim      = "Trim"
	FuncLPad      = "LPad"
	FuncRPad      = "RPad"
	FuncSubstring = "Substring"
	FuncToUpper   = "ToUpper"
	FuncToLower   = "ToLower"
	FuncLen       = "Len"
	FuncAbs       = "Abs"
	FuncCeil      = "Ceil"
	FuncFloor     = "Floor"
	FuncRandom    = "Random"
	FuncSign      = "Sign"
	FuncLike      = "Like"
	FuncIn        = "In"
	FuncArrayLen  = "ArrayLength"
	FuncDynamic   = "Dynamic"

	FuncCount                      = "Count"
	FuncLongCount                  = "LongCount"
	FuncCountDistinct              = "CountDistinct"
	FuncLongCountDistinct          = "LongCountDistinct"
	FuncSum                        = "Sum"
	FuncAvg                        = "Avg"
	FuncMin                        = "Min"
	FuncMax                        = "Max"
	FuncEarliestByOffset           = "EarliestByOffset"
	FuncEarliestByOffsetAllowNulls = "EarliestByOffsetAllowNulls"
	FuncLatestByOffset             = "LatestByOffset"
	FuncLatestByOffsetAllowNulls   = "LatestByOffsetAllowNulls"
	FuncCollectSet                 = "CollectSet"
	FuncCollectList                = "CollectList"
	FuncTopK                       = "TopK"
	FuncTopKDistinct               = "TopKDistinct"
)

func call(name string, args ...Expr) Call {
	return Call{Func: name, Args: args}
}

func Trim(x Expr) Call { return call(FuncTrim, x) }

func LPad(x Expr, length int, padding string) Call {
	return call(FuncLPad, x, Const(length), Const(padding))
}

func RPad(x Expr, length int, padding string) Call {
	return call(FuncRPad, x, Const(length), Const(padding))
}

func Substring(x Expr, position, length int) Call {
	return call(FuncSubstring, x, Const(position), Const(length))
}

func ToUpper(x any) Call { return call(FuncToUpper, Lit(x)) }
func ToLower(x any) Call { return call(FuncToLower, Lit(x)) }
func Len(x Expr) Call    { return call(FuncLen, x) }
func Abs(x Expr) Call    { return call(FuncAbs, x) }
func Ceil(x Expr) Call   { return call(FuncCeil, x) }
func Floor(x Expr) Call  { return call(FuncFloor, x) }
func Random() Call       { return call(FuncRandom) }
func Sign(x Expr) Call   { return call(FuncSign, x) }

// Like matches value against a LIKE pattern. Wrapping either side in ToLower
// makes the match case-insensitive.
func Like(value, pattern any) Call {
	return call(FuncLike, Lit(value), Lit(pattern))
}

// In tests membership of x in a constant sequence.
func In(x Expr, values any) Call {
	return call(FuncIn, x, Const(values))
}

func ArrayLength(x Expr) Call { return call(FuncArrayLen, x) }

// Dynamic injects engine syntax verbatim. The argument is not parsed.
func Dynamic(text string) Call {
	return call(FuncDynamic, Const(text))
}

// Count without a selector counts rows.
func Count(selector ...Expr) Call { return call(FuncCount, selector...) }

func LongCount(selector ...Expr) Call { return call(FuncLongCount, selector...) }

func CountDistinct(x Expr) Call     { return call(FuncCountDistinct, x) }
func LongCountDistinct(x Expr) Call { return call(FuncLongCountDistinct, x) }
func Sum(x Expr) Call               { return call(FuncSum, x) }
func Avg(x Expr) Call               { return call(FuncAvg, x) }
func Min(x Expr) Call               { return call(FuncMin, x) }
func Max(x Expr) Call               { return call(FuncMax, x) }

// EarliestByOffset takes an optional count of values to collect.
func EarliestByOffset(x Expr, n ...int) Call {
	return call(FuncEarliestByOffset, withCount(x, n)...)
}

func EarliestByOffsetAllowNulls(x Expr, n ...int) Call {
	return call(FuncEarliestByOffsetAllowNulls, withCount(x, n)...)
}

// LatestByOffset takes an optional count of values to collect.
func LatestByOffset(x Expr, n ...int) Call {
	return call(FuncLatestByOffset, withCount(x, n)...)
}

func LatestByOffsetAllowNulls(x Expr, n ...int) Call {
	return call(FuncLatestByOffsetAllowNulls, withCount(x, n)...)
}

func CollectSet(x Expr) Call  { return call(FuncCollectSet, x) }
func CollectList(x Expr) Call { return call(FuncCollectList, x) }

func TopK(x Expr, k int) Call         { return call(FuncTopK, x, Const(k)) }
func TopKDistinct(x Expr, k int) Call { return call(FuncTopKDistinct, x, Const(k)) }

func withCount(x Expr, n []int) []Expr {
	if len(n) == 0 {
		return []Expr{x}
	}
	return []Expr{x, Const(n[0])}
}
