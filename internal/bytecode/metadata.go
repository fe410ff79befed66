// Package bytecode 负责运行时字节码的元数据分离和骨架提取
// Solidity编译器会在运行时代码末尾附加一段CBOR编码的元数据，
// 最后2个字节是元数据的长度（大端）
package bytecode

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"excavator/pkg/models"
)

// SplitMetadata 把运行时代码分成纯代码和CBOR元数据两段
// 无法识别出合法的元数据后缀时返回 ok=false
func SplitMetadata(code []byte) (runtime []byte, metadata []byte, ok bool) {
	if len(code) < 4 {
		return nil, nil, false
	}

	length := int(binary.BigEndian.Uint16(code[len(code)-2:]))
	if length == 0 || length+2 > len(code) {
		return nil, nil, false
	}

	metadata = code[len(code)-2-length : len(code)-2]
	// CBOR元数据是一个小map，首字节必须是map类型
	if metadata[0]&0xe0 != 0xa0 {
		return nil, nil, false
	}

	return code[:len(code)-2-length], metadata, true
}

// ExtractSkeleton 把运行时代码归一化成骨架：PUSH指令(0x60-0x7f)的
// 立即数全部清零，同一份源码带不同构造参数或地址常量部署出的
// 代码得到相同的骨架
func ExtractSkeleton(runtime []byte) []byte {
	skeleton := make([]byte, len(runtime))
	copy(skeleton, runtime)

	for i := 0; i < len(skeleton); i++ {
		op := skeleton[i]
		if op < 0x60 || op > 0x7f {
			continue
		}
		// PUSH1..PUSH32携带1到32字节立即数，代码末尾可能截断
		width := int(op) - 0x5f
		for j := i + 1; j <= i+width && j < len(skeleton); j++ {
			skeleton[j] = 0
		}
		i += width
	}
	return skeleton
}

// AnalyzeMetadata 解析CBOR元数据，提取存储协议、存储哈希、编译器版本和experimental标记
// 解析失败时返回nil，元数据分析是尽力而为的
func AnalyzeMetadata(metadata []byte) *models.ContractMetadata {
	items, err := decodeCBORMap(metadata)
	if err != nil {
		return nil
	}

	result := &models.ContractMetadata{}
	found := false
	for key, value := range items {
		switch key {
		case "ipfs", "bzzr0", "bzzr1":
			result.StorageProtocol = key
			result.StorageHash = hex.EncodeToString(value.bytes)
			found = true
		case "solc":
			if len(value.bytes) == 3 {
				result.Compiler = fmt.Sprintf("%d.%d.%d",
					value.bytes[0], value.bytes[1], value.bytes[2])
				found = true
			}
		case "experimental":
			result.Experimental = value.boolean
			found = true
		}
	}

	if !found {
		return nil
	}
	return result
}

type cborValue struct {
	bytes   []byte
	boolean bool
}

// decodeCBORMap 极简CBOR解码，只覆盖元数据里出现的类型：
// 小map、文本串、字节串、布尔值
func decodeCBORMap(data []byte) (map[string]cborValue, error) {
	if len(data) == 0 || data[0]&0xe0 != 0xa0 {
		return nil, fmt.Errorf("不是CBOR map")
	}
	pairs := int(data[0] & 0x1f)
	if pairs > 23 {
		return nil, fmt.Errorf("map过大")
	}

	items := make(map[string]cborValue, pairs)
	pos := 1
	for i := 0; i < pairs; i++ {
		key, n, err := readString(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += n

		value, n, err := readValue(data[pos:])
		if err != nil {
			return nil, err
		}
		pos += n

		items[key] = value
	}

	return items, nil
}

func readHeader(data []byte) (major byte, length int, headerLen int, err error) {
	if len(data) == 0 {
		return 0, 0, 0, fmt.Errorf("数据截断")
	}
	major = data[0] >> 5
	info := int(data[0] & 0x1f)
	switch {
	case info < 24:
		return major, info, 1, nil
	case info == 24:
		if len(data) < 2 {
			return 0, 0, 0, fmt.Errorf("数据截断")
		}
		return major, int(data[1]), 2, nil
	case info == 25:
		if len(data) < 3 {
			return 0, 0, 0, fmt.Errorf("数据截断")
		}
		return major, int(binary.BigEndian.Uint16(data[1:3])), 3, nil
	default:
		return 0, 0, 0, fmt.Errorf("不支持的CBOR长度编码")
	}
}

func readString(data []byte) (string, int, error) {
	major, length, headerLen, err := readHeader(data)
	if err != nil {
		return "", 0, err
	}
	if major != 3 {
		return "", 0, fmt.Errorf("期望文本串，得到类型%d", major)
	}
	if headerLen+length > len(data) {
		return "", 0, fmt.Errorf("数据截断")
	}
	return string(data[headerLen : headerLen+length]), headerLen + length, nil
}

func readValue(data []byte) (cborValue, int, error) {
	if len(data) == 0 {
		return cborValue{}, 0, fmt.Errorf("数据截断")
	}

	// 布尔值
	if data[0] == 0xf4 {
		return cborValue{boolean: false}, 1, nil
	}
	if data[0] == 0xf5 {
		return cborValue{boolean: true}, 1, nil
	}

	major, length, headerLen, err := readHeader(data)
	if err != nil {
		return cborValue{}, 0, err
	}
	if major != 2 && major != 3 {
		return cborValue{}, 0, fmt.Errorf("不支持的CBOR值类型%d", major)
	}
	if headerLen+length > len(data) {
		return cborValue{}, 0, fmt.Errorf("数据截断")
	}
	return cborValue{bytes: data[headerLen : headerLen+length]}, headerLen + length, nil
}
