//go:build windows

package encoder

import (
	"context"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                   = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows          = user32.NewProc("EnumWindows")
	procIsWindowVisible      = user32.NewProc("IsWindowVisible")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
	procGetWindowRect        = user32.NewProc("GetWindowRect")
	procGetWindowLongW       = user32.NewProc("GetWindowLongW")
	procGetSystemMetrics     = user32.NewProc("GetSystemMetrics")
)

const (
	gwlExStyle     = ^uintptr(19) // -20
	wsExToolWindow = 0x0000_0080
	smCxScreen     = 0
	smCyScreen     = 1
)

type winRect struct {
	Left, Top, Right, Bottom int32
}

// ListSources enumerates the primary screen and eligible top-level
// windows via the Windows API. Windows are targeted by gdigrab "title="
// ids.
func ListSources(_ context.Context) ([]CaptureSource, error) {
	w, _, _ := procGetSystemMetrics.Call(smCxScreen)
	h, _, _ := procGetSystemMetrics.Call(smCyScreen)

	sources := []CaptureSource{{
		ID:     "desktop",
		Name:   "Desktop (Full Screen)",
		Type:   "screen",
		Width:  int(w),
		Height: int(h),
	}}

	cb := syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		const next, stop = 1, 0

		if visible, _, _ := procIsWindowVisible.Call(hwnd); visible == 0 {
			return next
		}
		exStyle, _, _ := procGetWindowLongW.Call(hwnd, gwlExStyle)
		if exStyle&wsExToolWindow != 0 {
			return next
		}
		titleLen, _, _ := procGetWindowTextLengthW.Call(hwnd)
		if titleLen == 0 {
			return next
		}
		buf := make([]uint16, titleLen+1)
		n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), titleLen+1)
		if n == 0 {
			return next
		}
		title := windows.UTF16ToString(buf[:n])
		if isSystemWindow(title) {
			return next
		}

		var r winRect
		if ok, _, _ := procGetWindowRect.Call(hwnd, uintptr(unsafe.Pointer(&r))); ok == 0 {
			return next
		}
		width := int(r.Right - r.Left)
		height := int(r.Bottom - r.Top)
		if width < minWindowWidth || height < minWindowHeight {
			return next
		}
		if len(sources) >= maxWindows+1 {
			return stop
		}

		sources = append(sources, CaptureSource{
			ID:     "title=" + title,
			Name:   truncateName(title),
			Type:   "window",
			Width:  width,
			Height: height,
		})
		return next
	})

	if ret, _, _ := procEnumWindows.Call(cb, 0); ret == 0 && len(sources) == 1 {
		return fallbackSources(), nil
	}
	return sources, nil
}
