// Package pg connects to PostgreSQL through a pgx pool and applies goose
// migrations shipped inside the binary.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, journal.Migrations, "migrations", cfg, log); err != nil {
//		return err
//	}
package pg
