package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 定义应用程序的配置结构
// 使用 mapstructure 标签来映射配置文件中的字段
type Config struct {
	DispenseAmount  float64 `mapstructure:"dispense_amount"`   // 点胶行程（毫米）
	RetractAmount   float64 `mapstructure:"retract_amount"`    // 回抽行程（毫米）
	MaxDeferRetries int     `mapstructure:"max_defer_retries"` // Defer 最大失败次数，0 表示不限制
	StepDelayMs     int     `mapstructure:"step_delay_ms"`     // 阶段之间的间隔
	ListenAddr      string  `mapstructure:"listen_addr"`       // 控制 API 监听地址
	JournalPath     string  `mapstructure:"journal_path"`      // 进度日志路径，为空时不记录
	JobFile         string  `mapstructure:"job_file"`          // 默认任务文件

	Motion  MotionConfig  `mapstructure:"motion"`
	Planner PlannerConfig `mapstructure:"planner"`
	Hooks   HooksConfig   `mapstructure:"hooks"`
}

// MotionConfig 运动控制配置
type MotionConfig struct {
	Mode      string    `mapstructure:"mode"`       // sim 或 remote
	Endpoint  string    `mapstructure:"endpoint"`   // remote 模式下运动控制器地址
	MachineID string    `mapstructure:"machine_id"` // sim 模式下的机器 ID
	HeadID    string    `mapstructure:"head_id"`
	NozzleIDs []string  `mapstructure:"nozzle_ids"`
	SafeZ     float64   `mapstructure:"safe_z"`
	Park      []float64 `mapstructure:"park"`     // 停靠位置 [x, y]
	DelayMs   int       `mapstructure:"delay_ms"` // sim 模式下每次运动的耗时
}

// PlannerConfig 规划器配置
type PlannerConfig struct {
	BatchSize int `mapstructure:"batch_size"` // 每个周期规划数量，0 表示每个吸嘴一个
}

// HooksConfig 任务完成回调配置
type HooksConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	AcceptRule string `mapstructure:"accept_rule"` // expr 表达式，例如 summary.Dispensed == summary.Total
}

// 运动模式
const (
	MotionSim    = "sim"
	MotionRemote = "remote"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("dispense_amount", 50.0)
	v.SetDefault("retract_amount", 20.0)
	v.SetDefault("max_defer_retries", 0)
	v.SetDefault("step_delay_ms", 0)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("journal_path", "dispense.wal")
	v.SetDefault("motion.mode", MotionSim)
	v.SetDefault("motion.machine_id", "sim-machine")
	v.SetDefault("motion.head_id", "H1")
	v.SetDefault("motion.nozzle_ids", []string{"N1"})
	v.SetDefault("motion.safe_z", 0.0)
	v.SetDefault("motion.park", []float64{0, 0})
	v.SetDefault("motion.delay_ms", 0)
	v.SetDefault("planner.batch_size", 0)
}

// LoadConfig 加载配置
// path 为空时在当前目录查找 config.yaml，找不到则只使用默认值和环境变量
// 环境变量使用 DISPENSER_ 前缀，例如 DISPENSER_MOTION_MODE=remote
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DISPENSER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // 配置文件名称 (不带扩展名)
		v.SetConfigType("yaml")   // 配置文件类型
		v.AddConfigPath(".")      // 查找配置文件的路径 (当前目录)
	}

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 将配置解析到结构体中
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置的一致性
func (c *Config) Validate() error {
	switch c.Motion.Mode {
	case MotionSim:
	case MotionRemote:
		if c.Motion.Endpoint == "" {
			return fmt.Errorf("配置错误: motion.endpoint is required in remote mode")
		}
	default:
		return fmt.Errorf("配置错误: unknown motion.mode %q", c.Motion.Mode)
	}
	if len(c.Motion.Park) != 0 && len(c.Motion.Park) != 2 {
		return fmt.Errorf("配置错误: motion.park must be [x, y]")
	}
	if c.MaxDeferRetries < 0 {
		return fmt.Errorf("配置错误: max_defer_retries must be >= 0")
	}
	if c.Planner.BatchSize < 0 {
		return fmt.Errorf("配置错误: planner.batch_size must be >= 0")
	}
	return nil
}

// ParkXY 返回停靠位置
func (m MotionConfig) ParkXY() (float64, float64) {
	if len(m.Park) != 2 {
		return 0, 0
	}
	return m.Park[0], m.Park[1]
}
