// SPDX-License-Identifier: MIT
package main

import "github.com/skaphos/vaultkeeper/cmd/vaultkeeper"

var execute = vaultkeeper.Execute

func main() {
	execute()
}
