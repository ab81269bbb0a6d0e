// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// Connect opens a pool and retries with exponential backoff until the
// database answers a ping. Migrate applies goose migrations read from an
// fs.FS, so packages can ship their schema with go:embed:
//
//	//go:embed migrations/*.sql
//	var migrations embed.FS
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, cfg, migrations, "migrations", log); err != nil {
//		return err
//	}
//
// Error helpers classify pgx and SQLSTATE errors so storage code does not
// import pgconn directly.
package pg
