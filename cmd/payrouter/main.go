package main

import "payment-router/internal/cli"

func main() {
	cli.Execute()
}
