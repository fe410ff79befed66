package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Skeleton 骨架：剥离元数据后的运行时字节码，作为结构相同合约共享的指纹
// 多个部署可以引用同一个骨架，骨架身份由字节码哈希决定
type Skeleton struct {
	Bytecode            string       `json:"bytecode"`
	ABI                 *ContractABI `json:"abi,omitempty"`
	FailedDecompilation bool         `json:"failed_decompilation"`
}

// NewSkeleton 创建未携带ABI的骨架
func NewSkeleton(bytecode string) *Skeleton {
	return &Skeleton{Bytecode: bytecode}
}

// SetABI 挂上反编译得到的ABI并清除失败标记
func (s *Skeleton) SetABI(abi *ContractABI) {
	s.ABI = abi
	s.FailedDecompilation = false
}

// SetFailedDecompilation 标记反编译失败
func (s *Skeleton) SetFailedDecompilation(failed bool) {
	s.FailedDecompilation = failed
}

// Hash 骨架字节码的keccak哈希
func (s *Skeleton) Hash() common.Hash {
	raw, err := hexutil.Decode(s.Bytecode)
	if err != nil {
		raw = []byte(s.Bytecode)
	}
	return common.BytesToHash(crypto.Keccak256(raw))
}
