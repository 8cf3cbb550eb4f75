package tray

import _ "embed"

// systray on Windows needs ICO data
//
//go:embed icons/icon.ico
var iconData []byte
