// Package mysql implements the off-chain record store on MySQL. It owns the
// connection pool, the embedded schema migrations and the queries behind
// records.Store.
package mysql
