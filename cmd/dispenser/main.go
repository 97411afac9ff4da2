package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SakuyaIzayoi/openpnp/internal/app"
	"github.com/SakuyaIzayoi/openpnp/internal/config"
	"github.com/SakuyaIzayoi/openpnp/internal/engine"
	"github.com/SakuyaIzayoi/openpnp/internal/jobfile"
	"github.com/SakuyaIzayoi/openpnp/internal/types"
)

var rootCmd = &cobra.Command{
	Use:           "dispenser",
	Short:         "Solder paste dispensing job controller",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	var cfgPath string
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ./config.yaml)")

	rootCmd.AddCommand(runCmd(&cfgPath))
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("执行失败", "error", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func runCmd(cfgPath *string) *cobra.Command {
	var (
		jobPath string
		serve   bool
		debug   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a dispense job to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(debug)

			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if jobPath == "" {
				jobPath = cfg.JobFile
			}
			if jobPath == "" {
				return errors.New("no job file: use --job or set job_file")
			}
			job, err := jobfile.Load(jobPath)
			if err != nil {
				return err
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.Recover(job); err != nil {
				logger.Warn("恢复进度失败，从头开始", "error", err)
			}

			// 收到信号时取消 ctx，Runner 会在阶段之间中止任务并停靠运动头
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if serve {
				srv := &http.Server{Addr: cfg.ListenAddr, Handler: a.Routes()}
				hubCtx, cancelHub := context.WithCancel(context.Background())
				defer cancelHub()
				go a.Hub.Run(hubCtx)
				go func() {
					logger.Info("控制 API 已启动", "addr", cfg.ListenAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("控制 API 启动失败", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
			}

			logger.Info("=== 点胶任务启动 ===", "job", job.Name, "file", jobPath, "motion", cfg.Motion.Mode)
			err = a.Runner.Run(ctx, job)
			s := a.Runner.Summary()
			switch {
			case err == nil:
				logger.Info("=== 点胶任务完成 ===", "dispensed", s.Dispensed, "total", s.Total, "pph", s.PlacementsPerHour)
				return nil
			case errors.Is(err, engine.ErrAborted), errors.Is(err, context.Canceled):
				logger.Warn("点胶任务已中止", "dispensed", s.Dispensed, "total", s.Total)
				return err
			default:
				return fmt.Errorf("点胶任务失败: %w", err)
			}
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "", "job file (default: job_file from config)")
	cmd.Flags().BoolVar(&serve, "serve", false, "serve the control API while the job runs")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <job.yaml>",
		Short: "Load a job file and list its dispensable placements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := jobfile.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job %q: %d board locations\n", job.Name, len(job.BoardLocations))
			for _, bl := range job.BoardLocations {
				n := 0
				for _, p := range bl.Board.Placements {
					if p.Enabled && p.Type == types.PlacementTypePlacement && p.Side == bl.Side && !bl.Placed(p.ID) {
						n++
					}
				}
				fmt.Fprintf(out, "  %s enabled=%t fiducials=%t dispensable=%d\n", bl, bl.Enabled, bl.CheckFiducials, n)
			}
			return nil
		},
	}
}
