// Package all registers every storage backend. Entry points blank-import it
// so config can select any kind at runtime without per-backend imports.
package all

import (
	_ "flightetl/internal/storage/mssql"
	_ "flightetl/internal/storage/postgres"
	_ "flightetl/internal/storage/sqlite"
)
