// Package all wires all built-in destination backends into the storage
// factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each backend, which register their
// factories with the storage package. It makes the following kinds
// available at runtime:
//
//   - "sqlite"   (silverload/internal/storage/sqlite)
//   - "postgres" (silverload/internal/storage/postgres)
//   - "mysql"    (silverload/internal/storage/mysql)
//   - "mssql"    (silverload/internal/storage/mssql)
//
// A binary that needs only a subset can import the backends it wants
// instead of this package.
package all

import (
	_ "silverload/internal/storage/mssql"
	_ "silverload/internal/storage/mysql"
	_ "silverload/internal/storage/postgres"
	_ "silverload/internal/storage/sqlite"
)
