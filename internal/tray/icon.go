//go:build !linux && !windows

package tray

import _ "embed"

//go:embed icons/icon.png
var iconData []byte
