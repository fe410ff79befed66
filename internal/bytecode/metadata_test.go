package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 构造带ipfs元数据后缀的运行时代码
// a2 64 "ipfs" 58 04 <4字节哈希> 64 "solc" 43 00 08 14
func sampleCode() []byte {
	metadata := []byte{
		0xa2,
		0x64, 'i', 'p', 'f', 's',
		0x58, 0x04, 0xde, 0xad, 0xbe, 0xef,
		0x64, 's', 'o', 'l', 'c',
		0x43, 0x00, 0x08, 0x14,
	}
	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	out := append([]byte{}, code...)
	out = append(out, metadata...)
	return append(out, 0x00, byte(len(metadata)))
}

func TestSplitMetadata(t *testing.T) {
	runtime, metadata, ok := SplitMetadata(sampleCode())
	require.True(t, ok)
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, runtime)
	assert.Equal(t, byte(0xa2), metadata[0])
}

func TestSplitMetadataNoSuffix(t *testing.T) {
	// 长度字段超出代码本身
	_, _, ok := SplitMetadata([]byte{0x60, 0x80, 0xff, 0xff})
	assert.False(t, ok)

	// 长度位置上不是CBOR map
	_, _, ok = SplitMetadata([]byte{0x60, 0x80, 0x60, 0x40, 0x00, 0x02})
	assert.False(t, ok)
}

func TestExtractSkeletonZeroesPushData(t *testing.T) {
	// PUSH1 0x80 PUSH1 0x40 MSTORE
	runtime := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	assert.Equal(t, []byte{0x60, 0x00, 0x60, 0x00, 0x52}, ExtractSkeleton(runtime))
	// 原始代码不被改动
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, runtime)
}

func TestExtractSkeletonPushDataIsNotCode(t *testing.T) {
	// PUSH2的立即数里藏着一个PUSH1字节(0x60)，不能当指令解析
	runtime := []byte{0x61, 0x60, 0x01, 0x55}
	assert.Equal(t, []byte{0x61, 0x00, 0x00, 0x55}, ExtractSkeleton(runtime))
}

func TestExtractSkeletonTruncatedPush(t *testing.T) {
	// 末尾被截断的PUSH32只清到代码结束
	runtime := []byte{0x01, 0x7f, 0xde, 0xad}
	assert.Equal(t, []byte{0x01, 0x7f, 0x00, 0x00}, ExtractSkeleton(runtime))

	assert.Empty(t, ExtractSkeleton(nil))
}

func TestAnalyzeMetadata(t *testing.T) {
	_, metadata, ok := SplitMetadata(sampleCode())
	require.True(t, ok)

	info := AnalyzeMetadata(metadata)
	require.NotNil(t, info)
	assert.Equal(t, "ipfs", info.StorageProtocol)
	assert.Equal(t, "deadbeef", info.StorageHash)
	assert.Equal(t, "0.8.20", info.Compiler)
	assert.False(t, info.Experimental)
}

func TestAnalyzeMetadataExperimental(t *testing.T) {
	metadata := []byte{
		0xa2,
		0x65, 'b', 'z', 'z', 'r', '0',
		0x42, 0x01, 0x02,
		0x6c, 'e', 'x', 'p', 'e', 'r', 'i', 'm', 'e', 'n', 't', 'a', 'l',
		0xf5,
	}

	info := AnalyzeMetadata(metadata)
	require.NotNil(t, info)
	assert.Equal(t, "bzzr0", info.StorageProtocol)
	assert.True(t, info.Experimental)
}

func TestAnalyzeMetadataGarbage(t *testing.T) {
	assert.Nil(t, AnalyzeMetadata([]byte{0x01, 0x02, 0x03}))
	assert.Nil(t, AnalyzeMetadata(nil))
}
