package demo

func Dup() int {
	return 2
}

func Run() int {
	total := helper(3)
	total += missing(total)
	return total
}
