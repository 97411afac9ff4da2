package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"

	"github.com/SakuyaIzayoi/openpnp/internal/app"
	"github.com/SakuyaIzayoi/openpnp/internal/config"
	"github.com/SakuyaIzayoi/openpnp/internal/motion"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

// main 是模拟远程运动控制器的入口
// 运动头参数取自配置文件的 motion 段，协议与 motion.RemoteMachine 对应
func main() {
	addr := flag.String("addr", ":9090", "listen address")
	cfgPath := flag.String("config", "", "config file (default ./config.yaml)")
	failRate := flag.Float64("fail-rate", 0, "probability that an approach move fails")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "motion-server")
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		logger.Error("加载配置失败", "error", err)
		os.Exit(1)
	}

	head := app.NewSimHead(cfg.Motion, logger)
	if *failRate > 0 {
		// 模拟随机失败，只作用于接近贴装点的运动
		head.SetFault(func(nozzleID string, kind motion.MoveKind, to types.Location) error {
			if kind == motion.MoveApproach && rand.Float64() < *failRate {
				return fmt.Errorf("远程设备故障 (吸嘴 %s 堵塞)", nozzleID)
			}
			return nil
		})
	}
	machine := motion.NewSimMachine(cfg.Motion.MachineID, head)

	logger.Info("=== 模拟运动控制器启动 ===", "addr", *addr, "head_id", cfg.Motion.HeadID, "nozzles", cfg.Motion.NozzleIDs)
	if err := http.ListenAndServe(*addr, motion.NewServer(machine, logger).Routes()); err != nil {
		logger.Error("服务启动失败", "error", err)
	}
}
