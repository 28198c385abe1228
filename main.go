// SPDX-License-Identifier: MPL-2.0

package main

import cmd "gitpkg/cmd/gitpkg"

func main() {
	cmd.Execute()
}
