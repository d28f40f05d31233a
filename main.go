package main

import (
	"github.com/findy-network/findy-exchange/agent/utils"
	"github.com/findy-network/findy-exchange/cmd"
)

func main() {
	utils.Settings.SetVersionInfo("OP Tech Lab - Findy Exchange v. " + utils.Version)
	cmd.Execute()
}
