// Package chain 链上数据源客户端，封装RPC调用并带重试
package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	exterrors "excavator/internal/errors"
	"excavator/internal/retry"
	"excavator/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// TransferEventTopic Transfer(address,address,uint256)事件的签名哈希
var TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// name()函数的选择器
var nameSelector = crypto.Keccak256([]byte("name()"))[:4]

// Client 链上数据源客户端
type Client struct {
	eth     *ethclient.Client
	rpc     *rpc.Client
	retrier *retry.Retrier
	logger  *logrus.Logger
}

// Dial 连接到节点，HTTP和WebSocket端点都支持
func Dial(ctx context.Context, endpoint string, logger *logrus.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}

	logger.Infof("已连接到节点: %s", endpoint)

	return &Client{
		eth:     ethclient.NewClient(rpcClient),
		rpc:     rpcClient,
		retrier: retry.NewRetrier(retry.RPCRetryConfig, logger),
		logger:  logger,
	}, nil
}

// Close 关闭连接
func (c *Client) Close() {
	c.rpc.Close()
}

// BlockWithTxs 获取带完整交易的区块
// 区块不存在时返回ErrBlockNotFound
func (c *Client) BlockWithTxs(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	err := c.retrier.Execute(ctx, "eth_getBlockByNumber", func() error {
		var err error
		block, err = c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if errors.Is(err, ethereum.NotFound) {
			// 不存在的区块不重试
			return nil
		}
		return err
	})
	if err != nil {
		return nil, exterrors.Derive(exterrors.ErrNetworkFailure, err).
			WithMessage("获取区块失败").WithBlockNumber(number)
	}
	if block == nil {
		return nil, exterrors.Derive(exterrors.ErrBlockNotFound, nil).
			WithMessage(fmt.Sprintf("区块 %d 不存在", number)).WithBlockNumber(number)
	}
	return block, nil
}

// Logs 获取单个区块的日志
// transferOnly时只取Transfer事件，减少不必要的传输量
func (c *Client) Logs(ctx context.Context, number uint64, transferOnly bool) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(number),
		ToBlock:   new(big.Int).SetUint64(number),
	}
	if transferOnly {
		query.Topics = [][]common.Hash{{TransferEventTopic}}
	}

	var logs []types.Log
	err := c.retrier.Execute(ctx, "eth_getLogs", func() error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, exterrors.Derive(exterrors.ErrNetworkFailure, err).
			WithMessage("获取日志失败").WithBlockNumber(number)
	}
	return logs, nil
}

// Traces 获取单个区块的调用跟踪
func (c *Client) Traces(ctx context.Context, number uint64) ([]*models.Trace, error) {
	var traces []*models.Trace
	err := c.retrier.Execute(ctx, "trace_block", func() error {
		return c.rpc.CallContext(ctx, &traces, "trace_block", hexutil.EncodeUint64(number))
	})
	if err != nil {
		return nil, exterrors.Derive(exterrors.ErrNetworkFailure, err).
			WithMessage("获取跟踪失败").WithBlockNumber(number)
	}
	return traces, nil
}

// HeadNumber 当前链头高度
func (c *Client) HeadNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.retrier.Execute(ctx, "eth_blockNumber", func() error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	return head, err
}

// SubscribeNewHead 订阅新区块头，需要WebSocket端点
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.eth.SubscribeNewHead(ctx, ch)
}

// ContractName 只读调用合约的name()方法解析显示名
// 合约没有name方法或返回值不是字符串时返回错误
func (c *Client) ContractName(ctx context.Context, address common.Address) (string, error) {
	msg := ethereum.CallMsg{
		To:   &address,
		Data: nameSelector,
	}

	output, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return "", err
	}

	return decodeStringReturn(output)
}

// decodeStringReturn 解析ABI编码的单个string返回值
// 偏移和长度来自合约返回的数据，不可信，比较前先减法避免uint64回绕
func decodeStringReturn(output []byte) (string, error) {
	if len(output) < 64 {
		return "", fmt.Errorf("返回值过短")
	}

	total := uint64(len(output))
	offset := binary.BigEndian.Uint64(output[24:32])
	if offset > total-32 {
		return "", fmt.Errorf("字符串偏移越界")
	}

	length := binary.BigEndian.Uint64(output[offset+24 : offset+32])
	if length > total-offset-32 {
		return "", fmt.Errorf("字符串长度越界")
	}

	return string(output[offset+32 : offset+32+length]), nil
}
