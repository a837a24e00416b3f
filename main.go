package main

import "balance-alerts/internal/cli"

func main() {
	cli.Execute()
}
