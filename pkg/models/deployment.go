package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractMetadata 从运行时代码的CBOR元数据后缀解析出的编译信息
type ContractMetadata struct {
	Compiler        string `json:"compiler,omitempty"`
	StorageProtocol string `json:"storage_protocol"`
	StorageHash     string `json:"storage_hash"`
	Experimental    bool   `json:"experimental"`
}

// ContractDeployment 合约部署记录，由create类型的跟踪派生
type ContractDeployment struct {
	Failed          bool              `json:"failed"`
	ContractAddress string            `json:"contract_address"`
	Creator         string            `json:"creator"`
	TxHash          string            `json:"tx_hash"`
	BlockNumber     uint64            `json:"block_number"`
	CreationCode    string            `json:"creation_code"`
	DeployedCode    string            `json:"deployed_code"`
	Skeleton        string            `json:"skeleton"`
	Metadata        *ContractMetadata `json:"metadata,omitempty"`
	VerifiedSource  string            `json:"verified_source,omitempty"`
	Name            string            `json:"name,omitempty"`
}

// SkeletonHash 骨架字节码的keccak哈希，作为结构指纹
func (d *ContractDeployment) SkeletonHash() common.Hash {
	raw, err := hexutil.Decode(d.Skeleton)
	if err != nil {
		raw = []byte(d.Skeleton)
	}
	return common.BytesToHash(crypto.Keccak256(raw))
}
