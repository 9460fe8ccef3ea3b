package main

import "github.com/mselser95/p2p-wager/cmd"

func main() {
	cmd.Execute()
}
