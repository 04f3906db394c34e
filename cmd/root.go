package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"audio-structure-analyzer/internal/analyzer"
	"audio-structure-analyzer/internal/config"
	"audio-structure-analyzer/internal/types"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	calibrationPath string
	outputDir       string
	strict          bool
	pretty          bool
	quiet           bool
	concurrency     int
	version         = "1.0.0"
)

var rootCmd = &cobra.Command{
	Use:   "audio-structure-analyzer [path]",
	Short: "将音频波形分析为层级化的音乐结构文档",
	Long: `Audio Structure Analyzer 把解码后的音频波形转换为层级化的
音乐结构文档（乐章、小节、节拍、tatum、段落），并为每个段落给出
经过校准的音色、音高和响度描述。

支持 WAV 和 FLAC 输入。可选的校准文档（JSON）携带配置覆盖
和离线拟合的校准映射。`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalysis,
}

// Execute 运行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// .env 可提供默认参数，命令行标志优先
	godotenv.Load()

	rootCmd.Flags().StringVarP(&calibrationPath, "calibration", "c", os.Getenv("ANALYZER_CALIBRATION"), "校准文档路径 (JSON)")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "分析结果输出目录（默认单文件输出到标准输出）")
	rootCmd.Flags().BoolVar(&strict, "strict", false, "严格模式：结构不变式被破坏时中止")
	rootCmd.Flags().BoolVar(&pretty, "pretty", false, "缩进格式化输出JSON")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "静默模式，不显示进度")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "j", runtime.NumCPU(), "并发处理文件数量")
	rootCmd.SetVersionTemplate("audio-structure-analyzer version {{.Version}}\n")
	rootCmd.Version = version
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	targetPath := args[0]

	if _, err := os.Stat(targetPath); os.IsNotExist(err) {
		return fmt.Errorf("路径不存在: %s", targetPath)
	}

	doc, err := loadDocument()
	if err != nil {
		return err
	}
	if strict {
		doc.Config.StrictSchema = true
	}

	audioAnalyzer, err := analyzer.New(doc)
	if err != nil {
		return err
	}

	files, err := collectAudioFiles(targetPath)
	if err != nil {
		return fmt.Errorf("收集音频文件失败: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("未找到支持的音频文件")
		return nil
	}

	if len(files) == 1 && outputDir == "" {
		return analyzeSingle(audioAnalyzer, files[0])
	}
	return analyzeBatch(audioAnalyzer, files)
}

// loadDocument 读取校准文档；未指定时使用默认配置
func loadDocument() (*config.Document, error) {
	if calibrationPath == "" {
		return &config.Document{Config: config.Default()}, nil
	}
	return config.LoadDocument(calibrationPath)
}

// analyzeSingle 单文件：进度打到标准错误，文档打到标准输出
func analyzeSingle(a *analyzer.Analyzer, filePath string) error {
	var progress types.ProgressFunc
	if !quiet {
		progress = func(percent int, stage string) {
			fmt.Fprintf(os.Stderr, "\r[%3d%%] %s          ", percent, stage)
		}
	}

	result, warnings, err := a.AnalyzeFile(filePath, progress)
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}
	printWarnings(filePath, warnings)

	data, err := marshalResult(result)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// analyzeBatch 多文件：工作池并行分析，结果写入输出目录
func analyzeBatch(a *analyzer.Analyzer, files []string) error {
	if outputDir == "" {
		return fmt.Errorf("多文件分析需要 --output 输出目录")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	results := a.AnalyzeFiles(files, concurrency, !quiet)

	failed := 0
	for _, fr := range results {
		if fr.Err != nil {
			failed++
			color.Red("分析失败: %s: %v", fr.Path, fr.Err)
			continue
		}
		printWarnings(fr.Path, fr.Warnings)

		data, err := marshalResult(fr.Result)
		if err != nil {
			failed++
			color.Red("序列化失败: %s: %v", fr.Path, err)
			continue
		}

		stem := strings.TrimSuffix(filepath.Base(fr.Path), filepath.Ext(fr.Path))
		outPath := filepath.Join(outputDir, stem+".json")
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			failed++
			color.Red("写入失败: %s: %v", outPath, err)
		}
	}

	if !quiet {
		fmt.Printf("\n=== 分析统计 ===\n")
		fmt.Printf("总文件数: %d\n", len(results))
		fmt.Printf("成功: %d\n", len(results)-failed)
		if failed > 0 {
			color.Red("失败: %d", failed)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d 个文件分析失败", failed)
	}
	return nil
}

// printWarnings 可恢复告警以黄色输出到标准错误
func printWarnings(filePath string, warnings []types.Warning) {
	if quiet {
		return
	}
	for _, w := range warnings {
		color.New(color.FgYellow).Fprintf(os.Stderr, "警告 [%s] %s: %s\n", w.Code, filepath.Base(filePath), w.Message)
	}
}

func marshalResult(result *types.AnalysisResult) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(result, "", "  ")
	}
	return json.Marshal(result)
}

// collectAudioFiles 递归收集支持的音频文件
func collectAudioFiles(path string) ([]string, error) {
	var files []string
	supportedExts := map[string]bool{
		".wav":  true,
		".flac": true,
	}

	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(strings.ToLower(filePath))
		if supportedExts[ext] {
			files = append(files, filePath)
		}
		return nil
	})

	return files, err
}
