package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ABIToken ABI参数，internalType 用于构造签名
type ABIToken struct {
	Name         string `json:"name"`
	InternalType string `json:"internalType"`
}

// FunctionABI 反编译得到的函数条目
type FunctionABI struct {
	Name            string     `json:"name"`
	Inputs          []ABIToken `json:"inputs"`
	Outputs         []ABIToken `json:"outputs"`
	StateMutability string     `json:"stateMutability"`
	Constant        bool       `json:"constant"`
}

// EventABI 反编译得到的事件条目
type EventABI struct {
	Name   string     `json:"name"`
	Inputs []ABIToken `json:"inputs"`
}

// ErrorABI 反编译得到的错误条目
type ErrorABI struct {
	Name   string     `json:"name"`
	Inputs []ABIToken `json:"inputs"`
}

func joinTypes(tokens []ABIToken) string {
	types := make([]string, len(tokens))
	for i, t := range tokens {
		types[i] = t.InternalType
	}
	return strings.Join(types, ",")
}

func signatureHash(name string, inputs []ABIToken) common.Hash {
	sig := fmt.Sprintf("%s(%s)", name, joinTypes(inputs))
	return common.BytesToHash(crypto.Keccak256([]byte(sig)))
}

// 名字形如 Event_<64位十六进制> 时，签名哈希直接内嵌在名字里
func embeddedHash(name string) (common.Hash, bool) {
	parts := strings.Split(name, "_")
	sig := parts[len(parts)-1]
	if len(sig) != 64 {
		return common.Hash{}, false
	}
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return common.Hash{}, false
	}
	return common.BytesToHash(raw), true
}

// GetSignatureHash 函数签名哈希 keccak(name(type1,type2,...))
// 未解析的函数名得不到正确的签名哈希
func (f *FunctionABI) GetSignatureHash() common.Hash {
	return signatureHash(f.Name, f.Inputs)
}

// GetInputTypes 逗号拼接的输入类型
func (f *FunctionABI) GetInputTypes() string {
	return joinTypes(f.Inputs)
}

// GetOutputTypes 逗号拼接的输出类型
func (f *FunctionABI) GetOutputTypes() string {
	return joinTypes(f.Outputs)
}

// Bytes4 函数选择器，未解析的名字里已经带着选择器
func (f *FunctionABI) Bytes4() string {
	if strings.HasPrefix(f.Name, "Unresolved_") {
		return strings.Split(f.Name, "_")[1]
	}
	return f.GetSignatureHash().Hex()[2:10]
}

// GetSignatureHash 事件签名哈希
func (e *EventABI) GetSignatureHash() common.Hash {
	if strings.HasPrefix(e.Name, "Event_") {
		if h, ok := embeddedHash(e.Name); ok {
			return h
		}
	}
	return signatureHash(e.Name, e.Inputs)
}

// GetInputTypes 逗号拼接的输入类型
func (e *EventABI) GetInputTypes() string {
	return joinTypes(e.Inputs)
}

// GetSignatureHash 错误签名哈希
func (e *ErrorABI) GetSignatureHash() common.Hash {
	if strings.HasPrefix(e.Name, "Error_") {
		if h, ok := embeddedHash(e.Name); ok {
			return h
		}
	}
	return signatureHash(e.Name, e.Inputs)
}

// GetInputTypes 逗号拼接的输入类型
func (e *ErrorABI) GetInputTypes() string {
	return joinTypes(e.Inputs)
}

// ABIEntry ABI条目的带标签联合，仅允许 function/event/error 三种
type ABIEntry struct {
	Type     string       `json:"type"`
	Function *FunctionABI `json:"-"`
	Event    *EventABI    `json:"-"`
	Error    *ErrorABI    `json:"-"`
}

// GetSignatureHash 按条目类型分发
func (n *ABIEntry) GetSignatureHash() common.Hash {
	switch n.Type {
	case "function":
		return n.Function.GetSignatureHash()
	case "event":
		return n.Event.GetSignatureHash()
	default:
		return n.Error.GetSignatureHash()
	}
}

// UnmarshalJSON 按 type 标签解析具体条目
func (n *ABIEntry) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	n.Type = tag.Type
	switch tag.Type {
	case "function":
		n.Function = &FunctionABI{}
		return json.Unmarshal(data, n.Function)
	case "event":
		n.Event = &EventABI{}
		return json.Unmarshal(data, n.Event)
	case "error":
		n.Error = &ErrorABI{}
		return json.Unmarshal(data, n.Error)
	default:
		return fmt.Errorf("未知的ABI条目类型: %q", tag.Type)
	}
}

// MarshalJSON 带回 type 标签序列化
func (n *ABIEntry) MarshalJSON() ([]byte, error) {
	switch n.Type {
	case "function":
		return json.Marshal(struct {
			Type string `json:"type"`
			*FunctionABI
		}{"function", n.Function})
	case "event":
		return json.Marshal(struct {
			Type string `json:"type"`
			*EventABI
		}{"event", n.Event})
	case "error":
		return json.Marshal(struct {
			Type string `json:"type"`
			*ErrorABI
		}{"error", n.Error})
	default:
		return nil, fmt.Errorf("未知的ABI条目类型: %q", n.Type)
	}
}

// ContractABI 合约完整ABI，条目顺序无语义
type ContractABI struct {
	Nodes []*ABIEntry `json:"nodes"`
}

// ContractABIFromJSON 解析反编译器输出的abi.json
func ContractABIFromJSON(data []byte) (*ContractABI, error) {
	var nodes []*ABIEntry
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	return &ContractABI{Nodes: nodes}, nil
}
