//go:build darwin && cgo

package darwin

import "github.com/mj1618/portal-pilot/internal/platform"

func init() {
	platform.NewProviderFunc = func() (*platform.Provider, error) {
		if err := CheckPermissions(); err != nil {
			return nil, err
		}
		return &platform.Provider{
			Inputter:      NewInputter(),
			Screenshotter: NewScreenshotter(),
			Clipboard:     NewClipboard(),
		}, nil
	}
}
