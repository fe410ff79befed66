// Package resolver 函数签名解析
// 反编译器解析不出名字的函数形如 Unresolved_a9059cbb，
// 用4byte.directory的选择器数据库把它们还原成可读签名
package resolver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"excavator/pkg/models"

	"github.com/sirupsen/logrus"
)

// DefaultAPIURL 4byte.directory签名查询接口
const DefaultAPIURL = "https://www.4byte.directory/api/v1/signatures/"

// unresolvedPrefix 反编译器给未识别函数起的名字前缀
const unresolvedPrefix = "Unresolved_"

// fourByteResponse 4byte.directory API响应
type fourByteResponse struct {
	Count   int `json:"count"`
	Results []struct {
		ID            int    `json:"id"`
		TextSignature string `json:"text_signature"`
		HexSignature  string `json:"hex_signature"`
	} `json:"results"`
}

// 常见选择器的本地表，API不可用时兜底
var wellKnownSelectors = map[string]string{
	"0xa9059cbb": "transfer(address,uint256)",
	"0x095ea7b3": "approve(address,uint256)",
	"0x23b872dd": "transferFrom(address,address,uint256)",
	"0x70a08231": "balanceOf(address)",
	"0xdd62ed3e": "allowance(address,address)",
	"0x06fdde03": "name()",
	"0x95d89b41": "symbol()",
	"0x313ce567": "decimals()",
	"0x18160ddd": "totalSupply()",
	"0x40c10f19": "mint(address,uint256)",
	"0x42966c68": "burn(uint256)",
	"0x8da5cb5b": "owner()",
	"0xf2fde38b": "transferOwnership(address)",
}

// SignatureResolver 按函数选择器查询可读签名，带容量上限的缓存
type SignatureResolver struct {
	logger *logrus.Logger
	apiURL string
	client *http.Client

	mu       sync.Mutex
	cache    map[string]string
	maxCache int
}

// New 创建签名解析器
func New(apiURL string, timeout time.Duration, cacheSize int, logger *logrus.Logger) *SignatureResolver {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	return &SignatureResolver{
		logger:   logger,
		apiURL:   apiURL,
		client:   &http.Client{Timeout: timeout},
		cache:    make(map[string]string),
		maxCache: cacheSize,
	}
}

// ResolveABI 把ABI里未识别的函数名替换成查到的可读签名
// 只在参数个数和查到的签名一致时替换，返回成功替换的条目数
func (r *SignatureResolver) ResolveABI(abi *models.ContractABI) int {
	if abi == nil {
		return 0
	}

	resolved := 0
	for _, node := range abi.Nodes {
		if node.Type != "function" || node.Function == nil {
			continue
		}
		fn := node.Function
		if !strings.HasPrefix(fn.Name, unresolvedPrefix) {
			continue
		}

		selector := "0x" + fn.Bytes4()
		text, ok := r.lookup(selector)
		if !ok {
			continue
		}

		name, types, ok := splitSignature(text)
		if !ok || len(types) != len(fn.Inputs) {
			continue
		}

		fn.Name = name
		for i := range fn.Inputs {
			fn.Inputs[i].InternalType = types[i]
		}
		resolved++
	}
	return resolved
}

// lookup 先查缓存和本地表，再查API
func (r *SignatureResolver) lookup(selector string) (string, bool) {
	r.mu.Lock()
	if text, ok := r.cache[selector]; ok {
		r.mu.Unlock()
		return text, text != ""
	}
	r.mu.Unlock()

	text, ok := wellKnownSelectors[selector]
	if !ok {
		text = r.fetchFromAPI(selector)
	}

	r.remember(selector, text)
	return text, text != ""
}

// remember 缓存查询结果，失败的查询也缓存避免反复打API
func (r *SignatureResolver) remember(selector, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.cache) >= r.maxCache {
		// 容量满时整体丢弃，省掉LRU的簿记开销
		r.cache = make(map[string]string)
	}
	r.cache[selector] = text
}

func (r *SignatureResolver) fetchFromAPI(selector string) string {
	url := fmt.Sprintf("%s?hex_signature=%s", r.apiURL, selector)

	resp, err := r.client.Get(url)
	if err != nil {
		r.logger.Debugf("4byte.directory查询失败: %v", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Debugf("4byte.directory返回状态 %d", resp.StatusCode)
		return ""
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}

	var response fourByteResponse
	if err := json.Unmarshal(body, &response); err != nil {
		r.logger.Debugf("解析4byte.directory响应失败: %v", err)
		return ""
	}

	if len(response.Results) == 0 {
		return ""
	}
	// 取id最小的结果，它是最早登记的签名，碰撞时更可信
	best := response.Results[0]
	for _, result := range response.Results[1:] {
		if result.ID < best.ID {
			best = result
		}
	}
	return best.TextSignature
}

// splitSignature 把 "transfer(address,uint256)" 拆成名字和参数类型表
func splitSignature(text string) (name string, types []string, ok bool) {
	open := strings.Index(text, "(")
	if open <= 0 || !strings.HasSuffix(text, ")") {
		return "", nil, false
	}

	name = text[:open]
	inner := text[open+1 : len(text)-1]
	if inner == "" {
		return name, nil, true
	}

	// 顶层逗号拆分，嵌套元组里的逗号不算
	depth := 0
	start := 0
	for i, ch := range inner {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				types = append(types, inner[start:i])
				start = i + 1
			}
		}
	}
	types = append(types, inner[start:])
	return name, types, true
}
