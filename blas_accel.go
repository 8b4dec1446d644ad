//go:build accelerate

package main

// #cgo darwin LDFLAGS: -framework Accelerate
// #cgo linux LDFLAGS: -lopenblas
import "C"
import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// Building with `-tags accelerate` routes every gonum matrix product
// through the system BLAS (Accelerate on macOS, OpenBLAS on Linux).
func init() {
	blas64.Use(netlib.Implementation{})
}
