package storage

import (
	"database/sql/driver"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	sqlite "modernc.org/sqlite"
)

func init() {
	// SQLite's lower() only folds ASCII, so substring search uses fold() instead.
	sqlite.MustRegisterDeterministicScalarFunction("fold", 1, foldFunc)
}

// foldText composes s to NFC and applies full Unicode case folding, the same
// normalization the matcher compares with.
func foldText(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

func foldFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return foldText(v), nil
	case []byte:
		return foldText(string(v)), nil
	default:
		return nil, fmt.Errorf("fold: unsupported argument type %T", v)
	}
}
