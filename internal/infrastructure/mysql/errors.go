package mysql

import (
	"errors"

	driver "github.com/go-sql-driver/mysql"

	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
)

const (
	codeDuplicateEntry  = 1062
	codeLockWaitTimeout = 1205
	codeDeadlock        = 1213
)

var (
	errLockWait = apperr.New(apperr.Conflict, "mysql: lock wait timeout")
	errDeadlock = apperr.New(apperr.Conflict, "mysql: deadlock detected")
	errNoTx     = errors.New("mysql: locked read requires a transaction")
)

func codeOf(err error) uint16 {
	var me *driver.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// classify turns lock contention into Conflict errors and leaves the rest
// untouched.
func classify(err error) error {
	switch codeOf(err) {
	case codeLockWaitTimeout:
		return errLockWait
	case codeDeadlock:
		return errDeadlock
	}
	return err
}
