// Package ui renders the one-shot terminal output of the greemqtt CLI.
//
// The bridge itself only logs; ui is used by the scan and devices commands
// to present results:
//
//   - Header: command banner with the scan parameters
//   - DeviceTable: one row per device (name, id, address, cipher, updated)
//   - Notice: a bordered box for "nothing found" with troubleshooting tips
//
// Output follows the terminal: widths come from the current terminal size
// (clamped to [MinTerminalWidth, MaxContentWidth]) and lipgloss drops colors
// when stdout is not a TTY, so piping into a file yields plain text.
//
// Example:
//
//	fmt.Println(ui.NewHeader("Device scan", "greemqtt scan", ui.Params{
//	    {Key: "Subnet", Value: "192.168.1.0/24"},
//	}).Render())
//	fmt.Println(ui.DeviceTable(devices, ui.TerminalWidth()))
package ui
