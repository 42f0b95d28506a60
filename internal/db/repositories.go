package db

// Repositories provides access to all database repositories
type Repositories struct {
	Playlog *PlaylogRepository
	AsRun   *AsRunRepository
}

// NewRepositories creates a new repository collection
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		Playlog: NewPlaylogRepository(db),
		AsRun:   NewAsRunRepository(db),
	}
}
