// Package all registers every storage backend and the SQL Server driver.
// Import it for side effects from binaries.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "csvload/internal/storage/mssql"
	_ "csvload/internal/storage/postgres"
	_ "csvload/internal/storage/sqlite"
)
