package models

import "math/big"

// TokenType 代币类型，按Transfer事件的indexed主题数量区分
type TokenType string

const (
	// TokenTypeERC20 同质化代币，3个主题，value在data里
	TokenTypeERC20 TokenType = "ERC20"
	// TokenTypeERC721 非同质化代币，4个主题，tokenId是第4个主题
	TokenTypeERC721 TokenType = "ERC721"
)

// TokenTransfer 代币转账记录，由Transfer事件日志解码得到
type TokenTransfer struct {
	Token       string    `json:"token"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       *big.Int  `json:"value"`
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"transaction_hash"`
	TokenType   TokenType `json:"token_type"`
}
