package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"lukechampine.com/uint128"
)

// u128Digits is the width of the decimal form of the largest 128-bit value.
const u128Digits = 39

// U128 is an unsigned 128-bit integer used for task ids and balances.
// It is stored as zero padded decimal text so that ordering by the column
// follows numeric order, and encoded in JSON as a decimal string.
type U128 struct {
	uint128.Uint128
}

type (
	TaskID  = U128
	Balance = U128
)

func NewU128(v uint64) U128 {
	return U128{uint128.From64(v)}
}

func ParseU128(s string) (U128, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return U128{}, fmt.Errorf("empty u128 value")
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return U128{}, fmt.Errorf("invalid u128 value %q", s)
	}

	return U128FromBig(n)
}

func MustParseU128(s string) U128 {
	u, err := ParseU128(s)
	if err != nil {
		panic(err)
	}
	return u
}

func U128FromBig(n *big.Int) (U128, error) {
	if n.Sign() < 0 || n.BitLen() > 128 {
		return U128{}, fmt.Errorf("value %s out of u128 range", n.String())
	}
	return U128{uint128.FromBig(n)}, nil
}

func (u U128) Equal(o U128) bool {
	return u.Uint128.Equals(o.Uint128)
}

func (u U128) Less(o U128) bool {
	return u.Uint128.Cmp(o.Uint128) < 0
}

// Padded returns the fixed width decimal form used for storage.
func (u U128) Padded() string {
	s := u.String()
	if len(s) >= u128Digits {
		return s
	}
	return strings.Repeat("0", u128Digits-len(s)) + s
}

func (u U128) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *U128) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = U128{}
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}

	parsed, err := ParseU128(raw)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func (u U128) Value() (driver.Value, error) {
	return u.Padded(), nil
}

func (u *U128) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("negative value %d for u128", v)
		}
		*u = NewU128(uint64(v))
		return nil
	case nil:
		*u = U128{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into u128", src)
	}

	parsed, err := ParseU128(raw)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

func (U128) GormDataType() string {
	return "varchar(40)"
}
