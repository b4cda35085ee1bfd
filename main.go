package main

import "github.com/frahmantamala/shop-orders/cmd"

func main() {
	cmd.Execute()
}
