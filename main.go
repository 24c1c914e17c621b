package main

import (
	"github.com/chatmediator/wecom-bridge/cmd/bridge"
)

func main() {
	bridge.Execute()
}
