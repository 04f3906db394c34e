package types

import "fmt"

// DecodeError 音频无法读取或格式不受支持（致命）
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("解码失败: %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EmptySignalError 波形长度为零（致命）
type EmptySignalError struct {
	Path string
}

func (e *EmptySignalError) Error() string {
	return fmt.Sprintf("音频信号为空: %s", e.Path)
}

// ConfigError 配置无效或互相矛盾（致命）
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置错误: %s", e.Msg)
}

// SchemaViolationError 输出结构不变式被破坏（严格模式下致命）
type SchemaViolationError struct {
	Level string // 量子层级名称
	Msg   string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("结构不变式被破坏 [%s]: %s", e.Level, e.Msg)
}
