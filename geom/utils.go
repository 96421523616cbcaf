package geom

func Abs(v Element) Element {
	if v < 0 {
		return -v
	}
	return v
}
