// Package ncio serialises access to the netCDF-C library.
//
// github.com/fhs/go-netcdf calls straight into netCDF-C and HDF5, neither of
// which may be entered from two threads at once. Every go-netcdf call sequence
// in the process, from OpenFile or CreateFile through Close, runs inside Do.
package ncio

import "sync"

var mu sync.Mutex

// Do runs fn while holding the process-wide netCDF lock.
// fn must not call Do again.
func Do(fn func() error) error {
	mu.Lock()
	defer mu.Unlock()
	return fn()
}
