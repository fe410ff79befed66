package models

// ContractDestruction 合约自毁记录，由suicide类型的跟踪派生
type ContractDestruction struct {
	Failed          bool   `json:"failed"`
	ContractAddress string `json:"contract_address"`
	RefundAddress   string `json:"refund_address"`
	Balance         string `json:"balance"`
	TxHash          string `json:"tx_hash"`
	BlockNumber     uint64 `json:"block_number"`
}
