package main

import (
	"os"

	_ "podfleet/cmd"
	"podfleet/cmd/root"
	"podfleet/internal/config"
	"podfleet/internal/logger"
)

func main() {
	// 服务器模式下日志落盘，CLI模式只打终端
	isServerMode := len(os.Args) > 1 && os.Args[1] == "server"
	logger.InitLogger(&config.Config.Log, isServerMode)

	if err := root.RootCmd.Execute(); err != nil {
		logger.Fatal(err)
	}
	os.Exit(0)
}
