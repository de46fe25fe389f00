// Package sqlite selects the SQLite driver backing the part cache.
//
// The default build uses the pure Go modernc.org/sqlite driver, so the
// binary cross-compiles without a C toolchain. Building with CGO_ENABLED=1
// and -tags cgo_sqlite switches to mattn/go-sqlite3 instead. The registered
// driver name differs between the two, so open databases through Open
// rather than sql.Open.
package sqlite

import "database/sql"

// Open opens the SQLite database at path with the compiled-in driver.
func Open(path string) (*sql.DB, error) {
	return sql.Open(driverName, path)
}

// Info identifies the compiled-in driver configuration.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"`
	IsCGO      bool   `json:"is_cgo"`
	Package    string `json:"package"`
}

// String renders the info in "name (type)" form for version output.
func (i Info) String() string {
	return i.DriverName + " (" + i.DriverType + ")"
}

// GetInfo reports which driver this binary was built with.
func GetInfo() Info {
	return Info{
		DriverName: driverName,
		DriverType: driverType,
		IsCGO:      driverType == "cgo",
		Package:    driverPackage,
	}
}
