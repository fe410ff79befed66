package models

// Trace 区块内的单条调用跟踪，字段与 trace_block RPC 返回的结构对应
// TraceAddress 是调用树中的路径，例如 [2,0] 表示根调用的第三个子调用的第一个子调用
type Trace struct {
	Action       TraceAction  `json:"action"`
	BlockHash    string       `json:"blockHash"`
	BlockNumber  uint64       `json:"blockNumber"`
	Error        string       `json:"error,omitempty"`
	Result       *TraceResult `json:"result,omitempty"`
	Subtraces    int          `json:"subtraces"`
	TraceAddress []int        `json:"traceAddress"`
	TxHash       string       `json:"transactionHash"`
	TxPosition   int          `json:"transactionPosition"`
	Type         string       `json:"type"`
}

// TraceAction 跟踪动作，字段按动作类型(call/create/suicide/reward)选择性填充
type TraceAction struct {
	// call
	CallType string `json:"callType,omitempty"`
	To       string `json:"to,omitempty"`
	Input    string `json:"input,omitempty"`
	// create
	From string `json:"from,omitempty"`
	Init string `json:"init,omitempty"`
	// suicide
	Address       string `json:"address,omitempty"`
	RefundAddress string `json:"refundAddress,omitempty"`
	Balance       string `json:"balance,omitempty"`
	// 通用
	Gas   string `json:"gas,omitempty"`
	Value string `json:"value,omitempty"`
}

// TraceResult 跟踪结果，create 动作会携带新合约地址和运行时代码
type TraceResult struct {
	GasUsed string `json:"gasUsed,omitempty"`
	Output  string `json:"output,omitempty"`
	Address string `json:"address,omitempty"`
	Code    string `json:"code,omitempty"`
}

// 跟踪类型常量
const (
	TraceTypeCall    = "call"
	TraceTypeCreate  = "create"
	TraceTypeSuicide = "suicide"
	TraceTypeReward  = "reward"
)

// IsCreate 是否为合约创建跟踪
func (t *Trace) IsCreate() bool {
	return t.Type == TraceTypeCreate
}

// IsSuicide 是否为合约自毁跟踪
func (t *Trace) IsSuicide() bool {
	return t.Type == TraceTypeSuicide
}

// Failed 跟踪是否携带错误
func (t *Trace) Failed() bool {
	return t.Error != ""
}

// HasAddressPrefix 判断 prefix 是否为该跟踪地址的前缀
// 前缀关系等价于调用树中的祖先关系
func (t *Trace) HasAddressPrefix(prefix []int) bool {
	if len(prefix) > len(t.TraceAddress) {
		return false
	}
	for i, v := range prefix {
		if t.TraceAddress[i] != v {
			return false
		}
	}
	return true
}
