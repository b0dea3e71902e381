package netops

import (
	"fmt"
	"os"
)

func createFile(abs string) (*os.File, error) {
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}
	return f, nil
}
