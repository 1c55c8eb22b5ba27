package resources

import (
	_ "embed"
	"errors"
)

// ErrIconNotFound means the binary was built without icon data.
var ErrIconNotFound = errors.New("embedded icon not found")

//go:embed icon.png
var iconData []byte

// GetIcon returns the bytes of the embedded icon
func GetIcon() ([]byte, error) {
	if len(iconData) == 0 {
		return nil, ErrIconNotFound
	}
	return iconData, nil
}
