package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"excavator/internal/api"
	"excavator/internal/cache"
	"excavator/internal/chain"
	"excavator/internal/config"
	"excavator/internal/decompiler"
	"excavator/internal/deriver"
	exterrors "excavator/internal/errors"
	"excavator/internal/extractor"
	"excavator/internal/fetcher"
	"excavator/internal/logging"
	"excavator/internal/progress"
	"excavator/internal/resolver"
	"excavator/internal/shutdown"
	"excavator/internal/store"
	"excavator/internal/stream"
	"excavator/internal/writer"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool

	// extract
	endpoint          string
	outputPath        string
	fromBlock         uint64
	toBlock           uint64
	numTasks          int
	includeTx         bool
	includeTransfers  bool
	includeLogs       bool
	scsPath           string
	sizeOutputKB      int
	compressionLevel  int
	decompilerTimeout int
	skipDecompilation bool
	resume            bool
	resetProgress     bool
	apiPort           int

	// stream
	storeDSN string
	noSync   bool
	numJobs  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "excavator",
		Short: "EVM链合约数据提取工具",
		Long:  `从EVM节点提取区块、合约部署和反编译ABI，批量模式写压缩文件，追块模式写数据库`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "批量提取历史区块区间",
		RunE:  runExtract,
	}
	extractCmd.Flags().StringVar(&endpoint, "endpoint", "http://localhost:8545", "节点端点")
	extractCmd.Flags().StringVar(&outputPath, "output-path", "./extracted", "输出目录")
	extractCmd.Flags().Uint64Var(&fromBlock, "from-block", 0, "起始区块号")
	extractCmd.Flags().Uint64Var(&toBlock, "to-block", 0, "结束区块号")
	extractCmd.Flags().IntVar(&numTasks, "num-tasks", 0, "在途区块上限，0表示5倍CPU核数")
	extractCmd.Flags().BoolVar(&includeTx, "include-tx", false, "提取交易")
	extractCmd.Flags().BoolVar(&includeTransfers, "include-transfers", false, "提取代币转账")
	extractCmd.Flags().BoolVar(&includeLogs, "include-logs", false, "提取全部日志")
	extractCmd.Flags().StringVar(&scsPath, "scs-path", "", "已验证源码库路径")
	extractCmd.Flags().IntVar(&sizeOutputKB, "size-output", 8192, "分段文件阈值(KB)")
	extractCmd.Flags().IntVar(&compressionLevel, "compression-level", 6, "gzip压缩级别")
	extractCmd.Flags().IntVar(&decompilerTimeout, "decompiler-timeout", 5000, "反编译超时(毫秒)")
	extractCmd.Flags().BoolVar(&skipDecompilation, "skip-decompilation", false, "跳过反编译")
	extractCmd.Flags().BoolVar(&resume, "resume", false, "从上次进度继续")
	extractCmd.Flags().BoolVar(&resetProgress, "reset-progress", false, "重置进度")
	extractCmd.Flags().IntVar(&apiPort, "api-port", 0, "状态接口端口，0表示不启用")

	streamCmd := &cobra.Command{
		Use:   "stream",
		Short: "追块模式，追上链头后实时跟进",
		RunE:  runStream,
	}
	streamCmd.Flags().StringVar(&endpoint, "endpoint", "ws://localhost:8546", "节点WebSocket端点")
	streamCmd.Flags().StringVar(&storeDSN, "store", "", "PostgreSQL连接串")
	streamCmd.Flags().BoolVar(&includeTx, "include-tx", false, "入库交易")
	streamCmd.Flags().BoolVar(&includeTransfers, "include-tokens", false, "入库代币转账")
	streamCmd.Flags().BoolVar(&includeLogs, "include-logs", false, "入库全部日志")
	streamCmd.Flags().IntVar(&decompilerTimeout, "decompiler-timeout", 5000, "反编译超时(毫秒)")
	streamCmd.Flags().BoolVar(&noSync, "no-sync", false, "跳过追赶阶段")
	streamCmd.Flags().IntVar(&numJobs, "num-jobs", 1, "追赶阶段并发度")
	streamCmd.Flags().IntVar(&apiPort, "api-port", 0, "状态接口端口，0表示不启用")

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "查看提取进度",
		RunE:  showProgress,
	}

	rootCmd.AddCommand(extractCmd, streamCmd, progressCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载配置并叠加命令行参数
// 显式传入的命令行参数优先于配置文件
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if cmd.Flags().Changed("endpoint") || cfg.Node.Endpoint == "" {
		cfg.Node.Endpoint = endpoint
	}
	if cmd.Flags().Changed("output-path") {
		cfg.Output.Path = outputPath
	}
	if cmd.Flags().Changed("size-output") {
		cfg.Output.SizeKB = sizeOutputKB
	}
	if cmd.Flags().Changed("compression-level") {
		cfg.Output.CompressionLevel = compressionLevel
	}
	if cmd.Flags().Changed("decompiler-timeout") {
		cfg.Decompiler.TimeoutMS = decompilerTimeout
	}
	if cmd.Flags().Changed("scs-path") {
		cfg.Decompiler.SCSPath = scsPath
	}
	if cmd.Flags().Changed("skip-decompilation") {
		cfg.Decompiler.Skip = skipDecompilation
	}
	if cmd.Flags().Changed("num-tasks") {
		cfg.Extract.NumTasks = numTasks
	}
	if cmd.Flags().Changed("store") {
		cfg.Stream.StoreDSN = storeDSN
	}
	if cmd.Flags().Changed("num-jobs") {
		cfg.Stream.NumJobs = numJobs
	}
	if cmd.Flags().Changed("no-sync") {
		cfg.Stream.NoSync = noSync
	}
	if cmd.Flags().Changed("api-port") {
		cfg.API.Port = apiPort
	}
	cfg.Extract.IncludeTransactions = cfg.Extract.IncludeTransactions || includeTx
	cfg.Extract.IncludeTransfers = cfg.Extract.IncludeTransfers || includeTransfers
	cfg.Extract.IncludeLogs = cfg.Extract.IncludeLogs || includeLogs

	if verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newResolver(cfg *config.Config, logger *logrus.Logger) *resolver.SignatureResolver {
	if cfg.Resolver == nil || !cfg.Resolver.Enabled {
		return nil
	}
	return resolver.New(cfg.Resolver.FourByteAPIURL,
		time.Duration(cfg.Resolver.TimeoutMS)*time.Millisecond,
		cfg.Resolver.CacheSize, logger)
}

// startStatusAPI 按配置启动状态接口，未启用时返回nil
func startStatusAPI(cfg *config.Config, p *progress.Manager, stats *exterrors.ErrorStats,
	graceful *shutdown.Graceful, logger *logrus.Logger) {
	if cfg.API == nil || cfg.API.Port <= 0 {
		return
	}

	server := api.NewServer(cfg.API.Port, p, stats, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("状态接口异常退出: %v", err)
		}
	}()
	graceful.Register("状态接口", shutdown.OrderStopDispatch, server.Stop)
}

func runExtract(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if toBlock == 0 || fromBlock > toBlock {
		return fmt.Errorf("需要合法的 --from-block 和 --to-block 区间")
	}

	graceful := shutdown.New(30*time.Second, logger)
	ctx := graceful.Context()

	client, err := chain.Dial(ctx, cfg.Node.Endpoint, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	var mirror *writer.KafkaMirror
	if cfg.Output.Kafka != nil && len(cfg.Output.Kafka.Brokers) > 0 {
		mirror, err = writer.NewKafkaMirror(cfg.Output.Kafka.Brokers, cfg.Output.Kafka.Topics, logger)
		if err != nil {
			return err
		}
		graceful.Register("Kafka镜像", shutdown.OrderCloseStores, func(context.Context) error {
			return mirror.Close()
		})
	}

	stats := exterrors.NewErrorStats()

	w, err := writer.New(cfg.Output.Path, cfg.Output.SizeKB, cfg.Output.CompressionLevel, mirror, stats, logger)
	if err != nil {
		return err
	}

	tracker, err := progress.NewManager(cfg.Progress.DBPath, logger)
	if err != nil {
		return err
	}
	graceful.Register("进度数据库", shutdown.OrderSaveProgress, func(context.Context) error {
		return tracker.Close()
	})

	if resetProgress {
		if err := tracker.Reset(); err != nil {
			logger.Warnf("重置进度失败: %v", err)
		} else {
			logger.Info("进度已重置")
		}
	}

	from := fromBlock
	if resume {
		if last := tracker.LastProcessedBlock(); last >= from && last < toBlock {
			from = last + 1
			logger.Infof("从上次进度继续，起始区块调整为 %d", from)
		}
	}

	startStatusAPI(cfg, tracker, stats, graceful, logger)

	opts := extractor.Options{
		From:                from,
		To:                  toBlock,
		NumTasks:            cfg.Extract.NumTasks,
		IncludeTransactions: cfg.Extract.IncludeTransactions,
		IncludeTransfers:    cfg.Extract.IncludeTransfers,
		IncludeLogs:         cfg.Extract.IncludeLogs,
		SkipDecompilation:   cfg.Decompiler.Skip,
	}

	e := extractor.New(opts,
		fetcher.New(client),
		deriver.New(client, cfg.Decompiler.SCSPath, logger),
		decompiler.New(time.Duration(cfg.Decompiler.TimeoutMS)*time.Millisecond, logger),
		cache.New(),
		w,
		newResolver(cfg, logger),
		stats,
		tracker,
		logger)

	summary, err := e.Run(ctx)
	if err == nil {
		if perr := tracker.AddContracts(summary.ContractsTotal); perr != nil {
			logger.Warnf("记录合约计数失败: %v", perr)
		}
	}

	graceful.Shutdown()
	return err
}

func runStream(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Stream.StoreDSN == "" {
		return fmt.Errorf("追块模式需要 --store 指定数据库连接串")
	}

	graceful := shutdown.New(30*time.Second, logger)
	ctx := graceful.Context()

	client, err := chain.Dial(ctx, cfg.Node.Endpoint, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	db, err := store.NewPostgresStore(cfg.Stream.StoreDSN, logger)
	if err != nil {
		return err
	}
	graceful.Register("数据库", shutdown.OrderCloseStores, func(context.Context) error {
		return db.Close()
	})

	stats := exterrors.NewErrorStats()
	startStatusAPI(cfg, nil, stats, graceful, logger)

	opts := stream.Options{
		IncludeTransactions: cfg.Extract.IncludeTransactions,
		IncludeTransfers:    cfg.Extract.IncludeTransfers,
		IncludeLogs:         cfg.Extract.IncludeLogs,
		NoSync:              cfg.Stream.NoSync,
		NumJobs:             cfg.Stream.NumJobs,
	}

	follower := stream.New(opts,
		fetcher.New(client),
		deriver.New(client, cfg.Decompiler.SCSPath, logger),
		decompiler.New(time.Duration(cfg.Decompiler.TimeoutMS)*time.Millisecond, logger),
		db,
		client,
		newResolver(cfg, logger),
		stats,
		logger)

	err = follower.Run(ctx)
	graceful.Shutdown()

	if err == context.Canceled {
		return nil
	}
	return err
}

func showProgress(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tracker, err := progress.NewManager(cfg.Progress.DBPath, logger)
	if err != nil {
		return err
	}
	defer tracker.Close()

	snapshot := tracker.Snapshot()

	fmt.Println("提取进度")
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("%-18s: %s\n", "进度数据库", tracker.DBPath())
	fmt.Printf("%-18s: %d\n", "最后处理区块", snapshot.LastProcessedBlock)
	fmt.Printf("%-18s: %d\n", "累计区块数", snapshot.TotalBlocks)
	fmt.Printf("%-18s: %d\n", "累计合约数", snapshot.TotalContracts)
	if !snapshot.StartTime.IsZero() {
		fmt.Printf("%-18s: %s\n", "开始时间", snapshot.StartTime.Format(time.RFC3339))
		fmt.Printf("%-18s: %s\n", "最后更新", snapshot.LastUpdateTime.Format(time.RFC3339))
		fmt.Printf("%-18s: %.2f\n", "区块/秒", snapshot.BlocksPerSecond)
	}
	return nil
}
