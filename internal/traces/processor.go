// Package traces 调用跟踪的失败传播处理
package traces

import "excavator/pkg/models"

// ParentFailedError 父调用失败时传播到子调用上的错误标记
const ParentFailedError = "Parent failed"

// PropagateErrors 在每笔交易的调用树内向下传播失败状态
// EVM语义下父调用revert会隐式回滚所有嵌套调用，但原始跟踪只在
// 发起失败的那条调用上带error，这里把失败补到整棵子树上
func PropagateErrors(traces []*models.Trace) {
	// 按交易哈希分组
	txs := make(map[string][]*models.Trace)
	for _, t := range traces {
		if t.TxHash == "" {
			continue
		}
		txs[t.TxHash] = append(txs[t.TxHash], t)
	}

	for _, grouped := range txs {
		// 收集已失败跟踪的地址
		var failed [][]int
		for _, t := range grouped {
			if t.Failed() {
				failed = append(failed, t.TraceAddress)
			}
		}
		if len(failed) == 0 {
			continue
		}

		// 再扫一遍，标记祖先失败的跟踪
		for _, t := range grouped {
			for _, f := range failed {
				if t.HasAddressPrefix(f) {
					if !t.Failed() {
						t.Error = ParentFailedError
					}
					break
				}
			}
		}
	}
}
