// Package store 追块模式的持久化层
// 历史提取写压缩文件，追块模式写数据库，区块重复处理时
// 用删除重插保证幂等
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	exterrors "excavator/internal/errors"
	"excavator/pkg/models"

	_ "github.com/lib/pq" // postgres驱动
	"github.com/sirupsen/logrus"
)

// Store 追块模式的记录存储
type Store interface {
	// LastBlockNumber 已入库的最高区块，库为空时ok为false
	LastBlockNumber(ctx context.Context) (number uint64, ok bool, err error)
	UpsertBlock(ctx context.Context, block *models.Block) error
	ReplaceTransactions(ctx context.Context, number uint64, txs []*models.Transaction) error
	ReplaceTransfers(ctx context.Context, number uint64, transfers []*models.TokenTransfer) error
	ReplaceLogs(ctx context.Context, number uint64, logs []*models.Log) error
	ReplaceDeployments(ctx context.Context, number uint64, deployments []*models.ContractDeployment) error
	ReplaceDestructions(ctx context.Context, number uint64, destructions []*models.ContractDestruction) error
	// SkeletonIDByBytecode 按字节码查骨架，不存在时ok为false
	SkeletonIDByBytecode(ctx context.Context, bytecode string) (id int64, ok bool, err error)
	InsertSkeleton(ctx context.Context, skeleton *models.Skeleton) (int64, error)
	Close() error
}

// PostgresStore 基于PostgreSQL的存储实现
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewPostgresStore 连接数据库并确保表结构就绪
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接检查失败: %w", err)
	}

	s := &PostgresStore{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}

	logger.Info("数据库存储已就绪")
	return s, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS blocks (
		number BIGINT PRIMARY KEY,
		hash TEXT NOT NULL,
		parent_hash TEXT NOT NULL,
		timestamp BIGINT NOT NULL,
		datetime TIMESTAMPTZ NOT NULL,
		miner TEXT NOT NULL,
		gas_limit BIGINT NOT NULL,
		gas_used BIGINT NOT NULL,
		base_fee_per_gas NUMERIC,
		transaction_count INT NOT NULL DEFAULT 0,
		gas_price_min DOUBLE PRECISION NOT NULL DEFAULT 0,
		gas_price_max DOUBLE PRECISION NOT NULL DEFAULT 0,
		gas_price_mean DOUBLE PRECISION NOT NULL DEFAULT 0,
		gas_price_stddev DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		hash TEXT PRIMARY KEY,
		block_number BIGINT NOT NULL,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL,
		value NUMERIC NOT NULL,
		gas BIGINT NOT NULL,
		gas_price NUMERIC,
		nonce BIGINT NOT NULL,
		input TEXT NOT NULL,
		type SMALLINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_block ON transactions(block_number)`,
	`CREATE TABLE IF NOT EXISTS transfers (
		id BIGSERIAL PRIMARY KEY,
		token TEXT NOT NULL,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL,
		value NUMERIC NOT NULL,
		block_number BIGINT NOT NULL,
		transaction_hash TEXT NOT NULL,
		token_type TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_block ON transfers(block_number)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id BIGSERIAL PRIMARY KEY,
		address TEXT NOT NULL,
		topics TEXT[] NOT NULL,
		data TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		transaction_hash TEXT NOT NULL,
		log_index INT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_block ON logs(block_number)`,
	`CREATE TABLE IF NOT EXISTS skeletons (
		id BIGSERIAL PRIMARY KEY,
		bytecode TEXT NOT NULL UNIQUE,
		abi JSONB,
		failed_decompilation BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS deployments (
		id BIGSERIAL PRIMARY KEY,
		failed BOOLEAN NOT NULL,
		contract_address TEXT NOT NULL,
		creator TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		creation_code TEXT NOT NULL,
		deployed_code TEXT NOT NULL,
		skeleton_id BIGINT REFERENCES skeletons(id),
		verified_source TEXT,
		name TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deployments_block ON deployments(block_number)`,
	`CREATE TABLE IF NOT EXISTS destructions (
		id BIGSERIAL PRIMARY KEY,
		failed BOOLEAN NOT NULL,
		contract_address TEXT NOT NULL,
		refund_address TEXT NOT NULL,
		balance TEXT NOT NULL,
		tx_hash TEXT NOT NULL,
		block_number BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_destructions_block ON destructions(block_number)`,
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// LastBlockNumber 已入库的最高区块
func (s *PostgresStore) LastBlockNumber(ctx context.Context) (uint64, bool, error) {
	var number sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(number) FROM blocks`).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, s.storeError(err, "查询最高区块失败")
	}
	if !number.Valid {
		return 0, false, nil
	}
	return uint64(number.Int64), true, nil
}

// UpsertBlock 插入或更新区块
func (s *PostgresStore) UpsertBlock(ctx context.Context, block *models.Block) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (number, hash, parent_hash, timestamp, datetime, miner,
			gas_limit, gas_used, base_fee_per_gas, transaction_count,
			gas_price_min, gas_price_max, gas_price_mean, gas_price_stddev)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (number) DO UPDATE SET
			hash = EXCLUDED.hash,
			parent_hash = EXCLUDED.parent_hash,
			timestamp = EXCLUDED.timestamp,
			datetime = EXCLUDED.datetime,
			miner = EXCLUDED.miner,
			gas_limit = EXCLUDED.gas_limit,
			gas_used = EXCLUDED.gas_used,
			base_fee_per_gas = EXCLUDED.base_fee_per_gas,
			transaction_count = EXCLUDED.transaction_count,
			gas_price_min = EXCLUDED.gas_price_min,
			gas_price_max = EXCLUDED.gas_price_max,
			gas_price_mean = EXCLUDED.gas_price_mean,
			gas_price_stddev = EXCLUDED.gas_price_stddev`,
		block.Number, block.Hash, block.ParentHash, block.Timestamp, block.Datetime,
		block.Miner, block.GasLimit, block.GasUsed, bigIntArg(block.BaseFeePerGas),
		block.TxCount, block.GasPriceMin, block.GasPriceMax, block.GasPriceMean,
		block.GasPriceStddev)
	if err != nil {
		return s.storeError(err, "写入区块失败")
	}
	return nil
}

// replace 同一事务内先按区块删除再批量插入
func (s *PostgresStore) replace(ctx context.Context, table string, number uint64,
	insert func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.storeError(err, "开启事务失败")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE block_number = $1`, table), number); err != nil {
		return s.storeError(err, fmt.Sprintf("清理%s旧数据失败", table))
	}

	if err := insert(tx); err != nil {
		return s.storeError(err, fmt.Sprintf("插入%s失败", table))
	}

	if err := tx.Commit(); err != nil {
		return s.storeError(err, "提交事务失败")
	}
	return nil
}

// ReplaceTransactions 替换一个区块的全部交易
func (s *PostgresStore) ReplaceTransactions(ctx context.Context, number uint64, txs []*models.Transaction) error {
	return s.replace(ctx, "transactions", number, func(tx *sql.Tx) error {
		for _, record := range txs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transactions (hash, block_number, from_address, to_address,
					value, gas, gas_price, nonce, input, type)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (hash) DO NOTHING`,
				record.Hash, record.BlockNumber, record.From, record.To,
				bigIntArg(record.Value), record.Gas, bigIntArg(record.GasPrice),
				record.Nonce, record.Input, record.Type)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceTransfers 替换一个区块的全部代币转账
func (s *PostgresStore) ReplaceTransfers(ctx context.Context, number uint64, transfers []*models.TokenTransfer) error {
	return s.replace(ctx, "transfers", number, func(tx *sql.Tx) error {
		for _, record := range transfers {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transfers (token, from_address, to_address, value,
					block_number, transaction_hash, token_type)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				record.Token, record.From, record.To, bigIntArg(record.Value),
				record.BlockNumber, record.TxHash, record.TokenType)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceLogs 替换一个区块的全部日志
func (s *PostgresStore) ReplaceLogs(ctx context.Context, number uint64, logs []*models.Log) error {
	return s.replace(ctx, "logs", number, func(tx *sql.Tx) error {
		for _, record := range logs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO logs (address, topics, data, block_number, transaction_hash, log_index)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				record.Address, pqStringArray(record.Topics), record.Data,
				record.BlockNumber, record.TxHash, record.LogIndex)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceDeployments 替换一个区块的全部部署记录
// 部署引用的骨架必须已经入库
func (s *PostgresStore) ReplaceDeployments(ctx context.Context, number uint64, deployments []*models.ContractDeployment) error {
	return s.replace(ctx, "deployments", number, func(tx *sql.Tx) error {
		for _, record := range deployments {
			var skeletonID sql.NullInt64
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM skeletons WHERE bytecode = $1`, record.Skeleton).
				Scan(&skeletonID.Int64)
			if err == nil {
				skeletonID.Valid = true
			} else if !errors.Is(err, sql.ErrNoRows) {
				return err
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO deployments (failed, contract_address, creator, tx_hash,
					block_number, creation_code, deployed_code, skeleton_id,
					verified_source, name)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				record.Failed, record.ContractAddress, record.Creator, record.TxHash,
				record.BlockNumber, record.CreationCode, record.DeployedCode,
				skeletonID, nullString(record.VerifiedSource), nullString(record.Name))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceDestructions 替换一个区块的全部自毁记录
func (s *PostgresStore) ReplaceDestructions(ctx context.Context, number uint64, destructions []*models.ContractDestruction) error {
	return s.replace(ctx, "destructions", number, func(tx *sql.Tx) error {
		for _, record := range destructions {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO destructions (failed, contract_address, refund_address,
					balance, tx_hash, block_number)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				record.Failed, record.ContractAddress, record.RefundAddress,
				record.Balance, record.TxHash, record.BlockNumber)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// SkeletonIDByBytecode 按字节码查骨架
func (s *PostgresStore) SkeletonIDByBytecode(ctx context.Context, bytecode string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM skeletons WHERE bytecode = $1`, bytecode).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, s.storeError(err, "查询骨架失败")
	}
	return id, true, nil
}

// InsertSkeleton 写入骨架，字节码冲突时返回已有记录的id
func (s *PostgresStore) InsertSkeleton(ctx context.Context, skeleton *models.Skeleton) (int64, error) {
	abi, err := abiArg(skeleton)
	if err != nil {
		return 0, s.storeError(err, "序列化骨架ABI失败")
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO skeletons (bytecode, abi, failed_decompilation)
		VALUES ($1, $2, $3)
		ON CONFLICT (bytecode) DO UPDATE SET
			abi = EXCLUDED.abi,
			failed_decompilation = EXCLUDED.failed_decompilation
		RETURNING id`,
		skeleton.Bytecode, abi, skeleton.FailedDecompilation).Scan(&id)
	if err != nil {
		return 0, s.storeError(err, "写入骨架失败")
	}
	return id, nil
}

// Close 关闭数据库连接
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) storeError(err error, message string) error {
	return exterrors.Derive(exterrors.ErrStoreFailure, err).
		WithMessage(message).WithComponent("store")
}
