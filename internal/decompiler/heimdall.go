// Package decompiler 外部反编译器边界
// 每次尝试启动一个独立的heimdall进程，超时强杀，
// 任何退出路径都会清理临时目录
package decompiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	exterrors "excavator/internal/errors"
	"excavator/pkg/models"

	"github.com/sirupsen/logrus"
)

// ScratchDir 反编译器的临时工作目录
const ScratchDir = ".tmp"

// Decompiler 把字节码交给heimdall反编译出ABI
type Decompiler struct {
	timeout time.Duration
	logger  *logrus.Logger
}

// New 创建反编译器，timeout为单次尝试的硬超时
func New(timeout time.Duration, logger *logrus.Logger) *Decompiler {
	return &Decompiler{
		timeout: timeout,
		logger:  logger,
	}
}

// Decompile 反编译一段运行时字节码
// address只用作临时目录的key，保证并发尝试互不干扰
func (d *Decompiler) Decompile(ctx context.Context, address string, bytecode string) (*models.ContractABI, error) {
	workDir := filepath.Join(ScratchDir, address)
	defer os.RemoveAll(workDir)

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "heimdall",
		"decompile", bytecode,
		"--default",
		"--output", workDir)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Run(); runCtx.Err() == context.DeadlineExceeded {
		d.logger.Debugf("合约 %s 反编译超时", address)
		return nil, exterrors.Derive(exterrors.ErrDecompileTimeout, runCtx.Err()).
			WithMessage(fmt.Sprintf("合约 %s 反编译超时", address))
	} else if err != nil {
		// heimdall非零退出时往往仍然没有产出abi.json，
		// 统一走下面的读取失败路径
		d.logger.Debugf("合约 %s 反编译进程退出异常: %v", address, err)
	}

	raw, err := os.ReadFile(filepath.Join(workDir, "abi.json"))
	if err != nil {
		d.logger.Debugf("合约 %s 没有ABI输出", address)
		return nil, exterrors.Derive(exterrors.ErrDecompileNoABI, err).
			WithMessage(fmt.Sprintf("合约 %s 读取ABI失败", address))
	}

	abi, err := models.ContractABIFromJSON(raw)
	if err != nil {
		d.logger.Debugf("合约 %s 解析abi.json失败: %v", address, err)
		return nil, exterrors.Derive(exterrors.ErrDecompileBadABI, err).
			WithMessage(fmt.Sprintf("合约 %s 解析ABI失败", address))
	}

	return abi, nil
}
