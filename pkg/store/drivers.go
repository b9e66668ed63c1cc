package store

import (
	_ "github.com/go-sql-driver/mysql" // mysql://
	_ "github.com/lib/pq"              // postgres://
	_ "modernc.org/sqlite"             // sqlite://
)
