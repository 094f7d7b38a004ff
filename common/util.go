package common

import "os"

func PanicIfErr(err error) {
	if err != nil {
		panic(err)
	}
}

// Contains tells whether arr contains x.
func Contains(arr []int, x int) bool {
	for _, n := range arr {
		if x == n {
			return true
		}
	}
	return false
}

// ChunksInt splits arr into chunks of at most chunkSize items.
func ChunksInt(arr []int, chunkSize int) [][]int {
	res := make([][]int, 0)
	for i := 0; i < len(arr); i += chunkSize {
		end := i + chunkSize
		if end > len(arr) {
			end = len(arr)
		}
		res = append(res, arr[i:end])
	}
	return res
}

// Remove deletes the file if it exists and panics on any other error.
func Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		panic(err)
	}
}
