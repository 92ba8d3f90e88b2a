package archive

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// ReadSystemRows reads an entire system table.
func ReadSystemRows(path string) ([]SystemRow, error) {
	return readTable[SystemRow](path)
}

// ReadProcessRows reads an entire process table.
func ReadProcessRows(path string) ([]ProcessRow, error) {
	return readTable[ProcessRow](path)
}

func readTable[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[T](f)
	defer reader.Close()

	numRows := reader.NumRows()
	if numRows == 0 {
		return nil, nil
	}

	rows := make([]T, numRows)
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	return rows[:n], nil
}
