// Package all registers every source backend.
package all

import (
	_ "funnel/internal/source/file"
	_ "funnel/internal/source/mongo"
	_ "funnel/internal/source/mssql"
	_ "funnel/internal/source/mysql"
	_ "funnel/internal/source/postgres"
	_ "funnel/internal/source/sqlite"
)
