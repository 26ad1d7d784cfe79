// planctl 读取 YAML 排产场景，在本地完成选机、约束分析与月度时间线生成
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
