package repositories

import "context"

// TransactionManager runs fn inside one database transaction. fn receives a
// context carrying the transaction; stores pick it up via TxFromContext.
// A returned error rolls everything back.
type TransactionManager interface {
	ExecTx(ctx context.Context, fn func(txCtx context.Context) error) error
}
