// Package sqlguard is a safety layer between application code and a
// PostgreSQL driver.
//
// It makes three guarantees: queries are built from token trees and never
// from string concatenation, connections and transactions are always
// released, and every query method checks the shape of its result.
//
// # Building Queries
//
// A query is built from literal text and interpolated values. Values become
// bound parameters; other queries are embedded in place:
//
//	filter := sqlguard.MustSQL("status = %v", status)
//	q, err := sqlguard.SQL("SELECT id FROM %v WHERE %v AND id = ANY(%v)",
//		sqlguard.Ident("public", "orders"),
//		filter,
//		sqlguard.ArrayOf(ids, "int8"),
//	)
//	// SELECT id FROM "public"."orders" WHERE status = $1 AND id = ANY($2)
//
// Only scalars, nil, queries and helper tokens (Ident, Join, Array, JSON,
// UnsafeRaw) may be interpolated. Anything else, such as a map or a struct,
// fails with InvalidInputError before a connection is touched.
//
// # Scopes
//
// Connections are only reachable inside a scope. The connection is released
// when the callback returns, fails or panics:
//
//	pool := sqlguard.New(backendPool, sqlguard.WithStatementTimeout(30*time.Second))
//	err := pool.Connect(ctx, func(ctx context.Context, c *sqlguard.Connection) error {
//		_, err := c.Query(ctx, q)
//		return err
//	})
//
// Transactions commit when the callback returns nil and roll back
// otherwise. Nested transactions use savepoints:
//
//	err := pool.Transaction(ctx, func(ctx context.Context, tx *sqlguard.Transaction) error {
//		if _, err := tx.Query(ctx, insertOrder); err != nil {
//			return err
//		}
//		// A failure here rolls back to the savepoint only.
//		_ = tx.Transaction(ctx, func(ctx context.Context, tx *sqlguard.Transaction) error {
//			_, err := tx.Query(ctx, insertAudit)
//			return err
//		})
//		return nil
//	})
//
// # Result Shapes
//
// Query methods state how many rows they expect:
//
//	name, err := pool.OneFirst(ctx, sqlguard.MustSQL("SELECT name FROM users WHERE id = %v", id))
//	if sqlguard.IsNotFoundErr(err) {
//		// no such user
//	}
//
// # Interceptors
//
// Interceptors hook into every query and connection scope. They may rewrite
// queries, replace rows, or answer a query without running it:
//
//	cache := sqlguard.NewCache(sqlguard.WithTTL(time.Minute))
//	pool := sqlguard.New(backendPool, sqlguard.WithInterceptors(
//		sqlguard.LogInterceptor(logger),
//		cache.Interceptor(),
//	))
//
// # Drivers
//
// sqlguard talks to the database through the interfaces in pkg/backend.
// pkg/backend/pgxbackend adapts a pgx pool and pkg/backend/sqlbackend
// adapts a *sql.DB.
package sqlguard
