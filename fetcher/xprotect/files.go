package xprotect

import "os"

func readFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		return raw, nil
	case os.IsNotExist(err):
		return nil, nil
	default:
		return nil, err
	}
}
