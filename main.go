package main

import "github.com/frahmantamala/spotpay-billing/cmd"

func main() {
	cmd.Execute()
}
