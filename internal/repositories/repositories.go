package repositories

// rowScanner abstracts pgx.Row and pgx.Rows for shared scan helpers
type rowScanner interface {
	Scan(dest ...interface{}) error
}
