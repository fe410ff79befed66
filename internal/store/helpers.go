package store

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"math/big"

	"excavator/pkg/models"

	"github.com/lib/pq"
)

// bigIntArg 大整数以十进制字符串入库，nil入NULL
func bigIntArg(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func pqStringArray(v []string) driver.Valuer {
	return pq.Array(v)
}

// abiArg 骨架ABI序列化为JSONB入库，没有ABI时入NULL
func abiArg(skeleton *models.Skeleton) (interface{}, error) {
	if skeleton.ABI == nil {
		return nil, nil
	}
	raw, err := json.Marshal(skeleton.ABI.Nodes)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
