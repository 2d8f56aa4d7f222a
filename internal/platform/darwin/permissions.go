//go:build darwin && cgo

package darwin

/*
#cgo LDFLAGS: -framework ApplicationServices
#include <ApplicationServices/ApplicationServices.h>

static int input_trusted() {
    return AXIsProcessTrusted();
}

static int capture_allowed() {
    return CGPreflightScreenCaptureAccess();
}
*/
import "C"
import "fmt"

// CheckPermissions verifies that the process may post input events and
// record the screen. Both are granted per terminal app in System Settings.
func CheckPermissions() error {
	if C.input_trusted() == 0 {
		return fmt.Errorf("accessibility permission required to send input\n\n" +
			"Grant it at: System Settings > Privacy & Security > Accessibility,\n" +
			"add the app running portal-pilot, then restart it.")
	}
	if C.capture_allowed() == 0 {
		return fmt.Errorf("screen recording permission required to capture the remote desktop\n\n" +
			"Grant it at: System Settings > Privacy & Security > Screen Recording,\n" +
			"add the app running portal-pilot, then restart it.")
	}
	return nil
}
