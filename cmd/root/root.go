package root

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:          "podfleet",
	Short:        "本机服务舰队编排器",
	Long:         `podfleet按声明式定义管理多个pod的启动、停止、重建、健康监控和依赖编排`,
	SilenceUsage: true,
}
