package internal

import (
	// Blank imports register the SQL drivers used by the watermill-sql
	// forwarding sink.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)
