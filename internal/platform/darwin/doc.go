// Package darwin provides the macOS input, screen capture and clipboard
// backends. They register themselves with platform.NewProviderFunc when
// built on darwin with cgo; elsewhere the package is empty and
// platform.NewProvider reports ErrUnsupported.
package darwin
