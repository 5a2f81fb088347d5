// Command avi runs a peer-to-peer smart-home mesh node: it joins the
// mesh, gossips its context document, and (if configured) bridges
// constrained MCU devices in over UDP.
package main

import "github.com/avi-mesh/avi/cmd"

func main() {
	cmd.Execute()
}
