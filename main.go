// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import "github.com/toolup-org/toolup/cmd"

func main() {
	cmd.Execute()
}
