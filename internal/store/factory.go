package store

import "fmt"

// Build constructs the configured Store backend, mirroring the reference
// persistence factory's adapter switch (mock/redis/kafka/postgres there;
// sqlite/postgres here).
func Build(backend, path string) (Store, error) {
	switch backend {
	case "sqlite":
		return OpenSQLite(path)
	case "postgres":
		return OpenPostgres(path)
	default:
		return nil, fmt.Errorf("store: unknown backend %q (want sqlite or postgres)", backend)
	}
}
