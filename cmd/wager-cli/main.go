package main

import "github.com/gec682416/onchain-random-game/cmd/wager-cli/cmd"

func main() {
	cmd.Execute()
}
