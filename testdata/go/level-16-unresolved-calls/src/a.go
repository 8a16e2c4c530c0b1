package demo

func Dup() int {
	return 1
}

func helper(n int) int {
	return n + Dup()
}
